package rgf

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// ParseRenderFormat maps a file extension (dot, svg, png, jpg) to a
// graphviz output format.
func ParseRenderFormat(s string) (graphviz.Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "dot", "gv":
		return graphviz.XDOT, nil
	case "svg":
		return graphviz.SVG, nil
	case "png":
		return graphviz.PNG, nil
	case "jpg", "jpeg":
		return graphviz.JPG, nil
	}
	return "", errors.NewValidationError("format", "must be dot, svg, png or jpg", s)
}

// RenderTree draws tree tx of the model. Internal nodes show their split
// condition, leaves their weight and depth.
func (e *Ensemble) RenderTree(w io.Writer, tx int, format graphviz.Format, featName func(int) string) (err error) {
	if tx < 0 || tx >= len(e.trees) {
		return errors.NewStructuralErrorf("Ensemble.RenderTree", "tree %d out of range [0,%d)", tx, len(e.trees))
	}
	if featName == nil {
		featName = defaultFeatName
	}
	t := e.trees[tx]

	gv := graphviz.New()
	defer func() {
		if cerr := gv.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	graph, err := gv.Graph()
	if err != nil {
		return errors.Wrap(err, "graphviz")
	}
	defer graph.Close()

	if len(t.nodes) > 0 {
		if err := drawNode(graph, t, t.root, nil, "", featName); err != nil {
			return err
		}
	}
	if err := gv.Render(graph, format, w); err != nil {
		return errors.NewModelError("Ensemble.RenderTree", "render", err)
	}
	return nil
}

func drawNode(g *cgraph.Graph, t *Tree, nx int, parent *cgraph.Node, edge string, featName func(int) string) error {
	n := &t.nodes[nx]
	cn, err := g.CreateNode(fmt.Sprintf("n%d", nx))
	if err != nil {
		return errors.Wrap(err, "graphviz")
	}
	if parent != nil {
		ce, err := g.CreateEdge("", parent, cn)
		if err != nil {
			return errors.Wrap(err, "graphviz")
		}
		ce.SetLabel(edge)
	}
	if n.IsLeaf() {
		cn.SetLabel(fmt.Sprintf("[%d] w=%.4g\ndepth=%d", nx, n.Weight, n.Depth))
		cn.SetShape(cgraph.BoxShape)
		return nil
	}
	cn.SetLabel(fmt.Sprintf("[%d] %s <= %g", nx, featName(n.Feature), n.Border))
	if err := drawNode(g, t, n.LE, cn, "yes", featName); err != nil {
		return err
	}
	return drawNode(g, t, n.GT, cn, "no", featName)
}

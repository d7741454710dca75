package rgf

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

// Model file layout, little endian:
//
//	marker      int32 + float64
//	reserved    256 zero bytes
//	t_num       int32
//	const       float64
//	org_dim     int32
//	config      int32 length + bytes
//	signature   int32 length + bytes
//	per tree    root int32, nodes int32,
//	            per node (border f64, weight f64, fx i32, le i32, gt i32, parent i32)
const (
	binMarkerInt   int32   = 0x52474631 // "RGF1"
	binMarkerFloat float64 = 1.5
	reservedLength         = 256
	maxModelString         = 1 << 20
	maxTreeNodes           = 1 << 28
)

var byteOrder = binary.LittleEndian

type modelWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (mw *modelWriter) write(v any) {
	if mw.err != nil {
		return
	}
	mw.err = binary.Write(mw.w, byteOrder, v)
	if mw.err == nil {
		mw.n += int64(binary.Size(v))
	}
}

func (mw *modelWriter) writeString(s string) {
	mw.write(int32(len(s)))
	if mw.err != nil {
		return
	}
	var n int
	n, mw.err = mw.w.WriteString(s)
	mw.n += int64(n)
}

type nodeRecord struct {
	Border float64
	Weight float64
	Fx     int32
	LE     int32
	GT     int32
	Parent int32
}

// WriteTo writes the model in binary form. Internal node weights are folded
// into the leaves first.
func (e *Ensemble) WriteTo(w io.Writer) (int64, error) {
	out := e.clone()
	out.cleanUp()

	mw := &modelWriter{w: bufio.NewWriter(w)}
	mw.write(binMarkerInt)
	mw.write(binMarkerFloat)
	mw.write(make([]byte, reservedLength))
	mw.write(int32(len(out.trees)))
	mw.write(out.Const)
	mw.write(int32(out.OrgDim))
	mw.writeString(out.Config)
	mw.writeString(out.Signature)
	for _, t := range out.trees {
		mw.write(int32(t.root))
		mw.write(int32(len(t.nodes)))
		recs := make([]nodeRecord, len(t.nodes))
		for nx := range t.nodes {
			n := &t.nodes[nx]
			recs[nx] = nodeRecord{
				Border: n.Border, Weight: n.Weight,
				Fx: int32(n.Feature), LE: int32(n.LE), GT: int32(n.GT), Parent: int32(n.Parent),
			}
		}
		mw.write(recs)
	}
	if mw.err == nil {
		mw.err = mw.w.Flush()
	}
	if mw.err != nil {
		return mw.n, errors.NewModelError("Ensemble.WriteTo", "write", mw.err)
	}
	return mw.n, nil
}

type modelReader struct {
	r   io.Reader
	err error
}

func (mr *modelReader) read(v any) {
	if mr.err == nil {
		mr.err = binary.Read(mr.r, byteOrder, v)
	}
}

func (mr *modelReader) readString() string {
	var n int32
	mr.read(&n)
	if mr.err != nil {
		return ""
	}
	if n < 0 || n > maxModelString {
		mr.err = errors.Newf("string length %d out of range", n)
		return ""
	}
	b := make([]byte, n)
	_, mr.err = io.ReadFull(mr.r, b)
	return string(b)
}

// ReadEnsemble reads a model written by WriteTo.
func ReadEnsemble(r io.Reader) (*Ensemble, error) {
	const op = "ReadEnsemble"
	mr := &modelReader{r: bufio.NewReader(r)}
	var mi int32
	var mf float64
	mr.read(&mi)
	mr.read(&mf)
	if mr.err != nil || mi != binMarkerInt || mf != binMarkerFloat {
		return nil, errors.NewModelError(op, "format", errors.New("binary file marker check failed: a broken file or endian mismatch"))
	}
	reserved := make([]byte, reservedLength)
	mr.read(reserved)
	if mr.err != nil {
		return nil, errors.NewModelError(op, "read", mr.err)
	}
	for _, b := range reserved {
		if b != 0 {
			return nil, errors.NewModelError(op, "format", errors.New("error detected in the reserved field: broken file or version conflict"))
		}
	}
	var tNum, orgDim int32
	e := &Ensemble{}
	mr.read(&tNum)
	mr.read(&e.Const)
	mr.read(&orgDim)
	e.Config = mr.readString()
	e.Signature = mr.readString()
	if mr.err != nil {
		return nil, errors.NewModelError(op, "read", mr.err)
	}
	if tNum < 0 || orgDim < 0 {
		return nil, errors.NewModelError(op, "format", errors.Newf("negative tree count %d or dimension %d", tNum, orgDim))
	}
	e.OrgDim = int(orgDim)
	e.trees = make([]*Tree, 0, min(int(tNum), 1024))
	for tx := 0; tx < int(tNum); tx++ {
		var root, nNum int32
		mr.read(&root)
		mr.read(&nNum)
		if mr.err != nil {
			return nil, errors.NewModelError(op, "read", mr.err)
		}
		if nNum < 0 || nNum > maxTreeNodes || (nNum > 0 && (root < 0 || root >= nNum)) {
			return nil, errors.NewModelError(op, "format", errors.Newf("tree %d: bad root %d or node count %d", tx, root, nNum))
		}
		recs := make([]nodeRecord, nNum)
		mr.read(recs)
		if mr.err != nil {
			return nil, errors.NewModelError(op, "read", mr.err)
		}
		t, err := treeFromRecords(int(root), recs, e.OrgDim)
		if err != nil {
			return nil, errors.NewModelError(op, "format", errors.Wrapf(err, "tree %d", tx))
		}
		e.trees = append(e.trees, t)
	}
	return e, nil
}

// treeFromRecords rebuilds a tree from its node records. Split features
// must be below orgDim when it is positive, and the parent links must
// mirror the child links.
func treeFromRecords(root int, recs []nodeRecord, orgDim int) (*Tree, error) {
	const op = "treeFromRecords"
	t := newTree(treeConfig{})
	t.root = root
	t.released = true
	t.nodes = make([]Node, len(recs))
	n := len(recs)
	inRange := func(x int32) bool { return x >= -1 && int(x) < n }
	for nx, r := range recs {
		if !inRange(r.LE) || !inRange(r.GT) || !inRange(r.Parent) {
			return nil, errors.NewStructuralErrorf(op, "node %d has a link out of range", nx)
		}
		if (r.LE < 0) != (r.GT < 0) {
			return nil, errors.NewStructuralErrorf(op, "node %d has a single child", nx)
		}
		if r.LE >= 0 && (r.Fx < 0 || (orgDim > 0 && int(r.Fx) >= orgDim)) {
			return nil, errors.NewStructuralErrorf(op, "node %d splits on feature %d (#feature=%d)", nx, r.Fx, orgDim)
		}
		t.nodes[nx] = Node{
			Feature: int(r.Fx), Border: r.Border, Weight: r.Weight,
			Parent: int(r.Parent), LE: int(r.LE), GT: int(r.GT),
		}
	}
	if n == 0 {
		t.root = -1
		return t, nil
	}
	// depths, and a check that the links form a tree
	if t.nodes[root].Parent != -1 {
		return nil, errors.NewStructuralErrorf(op, "root %d has parent %d", root, t.nodes[root].Parent)
	}
	seen := make([]bool, n)
	var walk func(nx, depth int) error
	walk = func(nx, depth int) error {
		if seen[nx] {
			return errors.NewStructuralErrorf(op, "node %d is reached twice", nx)
		}
		seen[nx] = true
		nd := &t.nodes[nx]
		nd.Depth = depth
		if nd.IsLeaf() {
			return nil
		}
		for _, cx := range [2]int{nd.LE, nd.GT} {
			if t.nodes[cx].Parent != nx {
				return errors.NewStructuralErrorf(op, "node %d lists child %d whose parent is %d", nx, cx, t.nodes[cx].Parent)
			}
			if err := walk(cx, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, err
	}
	for nx, ok := range seen {
		if !ok {
			return nil, errors.NewStructuralErrorf(op, "node %d is not reachable from the root", nx)
		}
	}
	return t, nil
}

// Save writes the model to path.
func (e *Ensemble) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewModelError("Ensemble.Save", "open", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.NewModelError("Ensemble.Save", "close", cerr)
		}
	}()
	if _, err = e.WriteTo(f); err != nil {
		return err
	}
	log.GetLoggerWithName("rgf").Debug("Model saved",
		log.OperationKey, log.OperationWrite, log.PathKey, path, log.TreesKey, e.NumTrees())
	return nil
}

// LoadEnsemble reads a model file.
func LoadEnsemble(path string) (*Ensemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewModelError("LoadEnsemble", "open", err)
	}
	defer f.Close()
	e, err := ReadEnsemble(f)
	if err != nil {
		return nil, err
	}
	log.GetLoggerWithName("rgf").Debug("Model loaded",
		log.OperationKey, log.OperationRead, log.PathKey, path, log.TreesKey, e.NumTrees())
	return e, nil
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/sklearn/rgf"
)

type dumpOptions struct {
	model      string
	tree       int
	format     string
	out        string
	names      string
	importance bool
}

func newDumpCmd() *cobra.Command {
	o := dumpOptions{tree: -1, format: "text"}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Show the trees of a model as text or graphviz output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, &o)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&o.model, "model", "m", "", "model file")
	fl.IntVar(&o.tree, "tree", o.tree, "tree index; -1 dumps all trees (text only)")
	fl.StringVarP(&o.format, "format", "f", o.format, "text, dot, svg, png or jpg")
	fl.StringVarP(&o.out, "out", "o", "", "output file; stdout when empty")
	fl.StringVar(&o.names, "feature-names", "", "file with one feature name per line")
	fl.BoolVar(&o.importance, "importance", false, "print per-feature split counts and weight sums instead")
	return cmd
}

func runDump(cmd *cobra.Command, o *dumpOptions) (err error) {
	if o.model == "" {
		return errors.NewValidationError("model", "--model is required", "")
	}
	model, err := rgf.LoadEnsemble(o.model)
	if err != nil {
		return err
	}
	featName, err := loadFeatureNames(o.names)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return errors.Wrapf(err, "create %s", o.out)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if o.importance {
		return writeImportance(w, model.Importance(), featName)
	}
	if o.tree >= model.NumTrees() {
		return errors.NewValidationError("tree", fmt.Sprintf("model has %d trees", model.NumTrees()), o.tree)
	}
	if strings.EqualFold(o.format, "text") {
		return showTrees(w, model, o.tree, featName)
	}
	format, err := rgf.ParseRenderFormat(o.format)
	if err != nil {
		return err
	}
	if o.tree < 0 {
		return errors.NewValidationError("tree", "graph output renders one tree; pick one with --tree", o.tree)
	}
	return model.RenderTree(w, o.tree, format, featName)
}

func showTrees(w io.Writer, model *rgf.Ensemble, only int, featName func(int) string) error {
	for tx := 0; tx < model.NumTrees(); tx++ {
		if only >= 0 && tx != only {
			continue
		}
		if _, err := fmt.Fprintf(w, "tree %d\n", tx); err != nil {
			return err
		}
		if err := model.Tree(tx).Show(w, featName); err != nil {
			return err
		}
	}
	return nil
}

// featureImportance is one row of the importance listing.
type featureImportance struct {
	Feature   string  `yaml:"feature"`
	Splits    int     `yaml:"splits"`
	WeightSum float64 `yaml:"weight_sum"`
}

func writeImportance(w io.Writer, fi rgf.FeatureImportance, featName func(int) string) error {
	rows := make([]featureImportance, 0, len(fi.Splits))
	for fx, n := range fi.Splits {
		if n == 0 {
			continue
		}
		rows = append(rows, featureImportance{Feature: featName(fx), Splits: n, WeightSum: fi.WeightSum[fx]})
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(rows)
}

// loadFeatureNames returns a name lookup. Features without a name, or all
// of them when path is empty, are called f<index>.
func loadFeatureNames(path string) (func(int) string, error) {
	var names []string
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read feature names %s", path)
		}
		for _, line := range strings.Split(string(b), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				names = append(names, line)
			}
		}
	}
	return func(fx int) string {
		if fx >= 0 && fx < len(names) {
			return names[fx]
		}
		return fmt.Sprintf("f%d", fx)
	}, nil
}

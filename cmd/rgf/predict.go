package main

import (
	"bufio"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rgf/internal/dataio"
	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
	"github.com/YuminosukeSato/rgf/sklearn/rgf"
)

func newPredictCmd() *cobra.Command {
	var modelPath, xPath, outPath string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Apply a model to a feature matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" || xPath == "" {
				return errors.NewValidationError("predict", "--model and --x are required", nil)
			}
			model, err := rgf.LoadEnsemble(modelPath)
			if err != nil {
				return err
			}
			X, err := dataio.ReadMatrix(xPath)
			if err != nil {
				return err
			}
			data, err := rgf.NewDataset(X)
			if err != nil {
				return err
			}
			pred, err := model.PredictContext(cmd.Context(), data)
			if err != nil {
				return err
			}
			log.GetLoggerWithName("rgf.cli").Info("Predicted",
				log.SamplesKey, len(pred),
				log.PathKey, outPath,
			)
			if outPath != "" {
				return dataio.WriteVector(outPath, pred)
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, p := range pred {
				w.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
				w.WriteByte('\n')
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model file")
	cmd.Flags().StringVar(&xPath, "x", "", "features (.npy or text)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "prediction file (.npy or text); stdout when empty")
	return cmd
}

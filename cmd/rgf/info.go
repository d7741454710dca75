package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/sklearn/rgf"
)

func newInfoCmd() *cobra.Command {
	var modelPath string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print model statistics and the training config as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				return errors.NewValidationError("model", "--model is required", "")
			}
			model, err := rgf.LoadEnsemble(modelPath)
			if err != nil {
				return err
			}
			info, err := model.Info()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model file")
	return cmd
}

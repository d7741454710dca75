// Command rgf trains regularized greedy forests and applies them.
//
//	rgf train --config job.yaml --set reg_L2=0.01 --model-out model.rgf
//	rgf predict --model model.rgf --x test.npy --out pred.npy
//	rgf dump --model model.rgf --tree 0 --format svg --out tree0.svg
//	rgf info --model model.rgf
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rgf/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel   string
		logConsole bool
	)
	root := &cobra.Command{
		Use:           "rgf",
		Short:         "Regularized greedy forest training and prediction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetupLogger(logLevel, logConsole)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().BoolVar(&logConsole, "log-console", false, "human readable log output instead of JSON")

	root.AddCommand(
		newTrainCmd(),
		newPredictCmd(),
		newDumpCmd(),
		newInfoCmd(),
	)
	return root
}

package main

import (
	"os"

	"github.com/nftwatch/nftwatch/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nftwatch",
		Short:        "Announce XRPL NFT sales and mints of one issuer",
		Version:      Version,
		SilenceUsage: true,
		RunE:         runWatch,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Poll for new sales and mints and send notifications",
		RunE:  runWatch,
	})

	root.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print the persisted state of every stream as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printState(cmd.Context(), config.Get(), cmd.OutOrStdout())
		},
	})

	return root
}

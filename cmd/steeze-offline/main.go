package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "steeze-offline",
		Short:        "Run cloud functions locally behind an emulated invoke API",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

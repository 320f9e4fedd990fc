package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	rootCmd := &cobra.Command{
		Use:           "workbench",
		Short:         "LLM workbench: token pricing and chat sessions over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newPriceCmd())
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd
}

package main

import (
	"os"

	"vectorize/cmd/vectorize/prepare"
	"vectorize/cmd/vectorize/serve"
	"vectorize/cmd/vectorize/version"
	"vectorize/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	logger.Init()
	rootCmd := &cobra.Command{
		Use:          "vectorize",
		Short:        "Vectorize turns text into embedding vectors",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(prepare.Cmd)
	rootCmd.AddCommand(version.Cmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

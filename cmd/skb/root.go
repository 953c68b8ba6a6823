package main

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	// repoRootFlag is the project root, defaulting to the working directory
	repoRootFlag string
	// logLevelFlag overrides the configured log level
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "skb",
	Short: "SKB - Semantic Knowledge Base",
	Long: `SKB is a local-first retrieval and reasoning engine for codebases.
It incrementally describes source files with an LLM, stores the results
as embedded fragments in a tiered vector store, and answers queries by
multi-path recall over learned records and indexed code.`,
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate("SKB version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&repoRootFlag, "dir", "C", ".",
		"Project root directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
}

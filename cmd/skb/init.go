package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"skb/internal/config"
)

var initProjectKey string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .skb directory with a default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := filepath.Join(repoRootFlag, config.Dir, "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s already exists", cfgPath)
		}

		cfg := config.DefaultConfig()
		cfg.RepoRoot = repoRootFlag
		if initProjectKey != "" {
			cfg.ProjectKey = initProjectKey
		}
		if err := cfg.Save(repoRootFlag); err != nil {
			return err
		}

		fmt.Printf("Initialized %s\n", cfgPath)
		fmt.Println("Add LLM endpoints to .skb/endpoints.toml before indexing.")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initProjectKey, "project", "", "Project key (defaults to \"default\")")
	rootCmd.AddCommand(initCmd)
}

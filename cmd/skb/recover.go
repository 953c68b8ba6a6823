package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild the vector index from persisted markdown artifacts",
	Long: `Re-embeds every markdown artifact under .skb/docs and rebuilds the
vector store from them. No LLM calls are made; use this after data loss
or after switching the embedding model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(repoRootFlag)
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.pipeline.RecoverFromArtifacts(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Artifacts: %d total, %d recovered\n", result.Total, result.Processed)
		fmt.Printf("Vectors:   %d\n", result.TotalVectors)
		if len(result.Errors) > 0 {
			fmt.Printf("Errors:    %d\n", len(result.Errors))
			for _, fe := range result.Errors {
				fmt.Printf("  %s: %s\n", fe.Path, fe.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Describe and vectorize changed source files",
	Long: `Scans the project for eligible source files, describes every changed
file through the LLM endpoint pool, persists markdown artifacts under
.skb/docs and upserts embedded fragments into the vector store.

Unchanged files (by content hash) are skipped unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(repoRootFlag)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.store.Rebuild(); err != nil {
			return err
		}

		result, err := eng.pipeline.VectorizeProject(context.Background(), indexForce)
		if err != nil {
			return err
		}

		fmt.Printf("Files:     %d total, %d processed, %d skipped\n",
			result.Total, result.Processed, result.Skipped)
		fmt.Printf("Vectors:   %d\n", result.TotalVectors)
		fmt.Printf("Elapsed:   %dms\n", result.ElapsedMs)
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
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Reprocess all files, ignoring snapshots")
	rootCmd.AddCommand(indexCmd)
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var recallTopK int

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Query learned records and indexed code fragments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(repoRootFlag)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.store.Rebuild(); err != nil {
			return err
		}

		intent := strings.Join(args, " ")
		result, err := eng.recaller.Recall(context.Background(), eng.cfg.ProjectKey, intent, recallTopK)
		if err != nil {
			return err
		}

		if len(result.Items) == 0 {
			fmt.Println("No results.")
			return nil
		}

		for i, item := range result.Items {
			fmt.Printf("%2d. [%.3f] (%s) %s\n", i+1, item.Score, item.Kind, item.Title)
			if item.Snippet != "" {
				fmt.Printf("    %s\n", firstLine(item.Snippet))
			}
			if len(item.SourceFiles) > 0 {
				fmt.Printf("    files: %s\n", strings.Join(item.SourceFiles, ", "))
			}
		}

		for _, s := range result.Summaries {
			fmt.Printf("\nDomain %s:\n", s.Domain)
			for _, a := range s.Answers {
				fmt.Printf("  - %s\n", firstLine(a))
			}
		}
		return nil
	},
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func init() {
	recallCmd.Flags().IntVar(&recallTopK, "top", 10, "Maximum number of results")
	rootCmd.AddCommand(recallCmd)
}

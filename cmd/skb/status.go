package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skb/internal/recall"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, endpoint and quota status",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(repoRootFlag)
		if err != nil {
			return err
		}
		defer eng.Close()

		fragments, err := eng.store.DurableCount()
		if err != nil {
			return err
		}
		records, err := recall.NewRepository(eng.db).Count(eng.cfg.ProjectKey)
		if err != nil {
			return err
		}

		fmt.Printf("Project:    %s\n", eng.cfg.ProjectKey)
		fmt.Printf("Fragments:  %d\n", fragments)
		fmt.Printf("Records:    %d\n", records)
		fmt.Printf("Tracked:    %d files\n", eng.tracker.Len())

		if model, ok, _ := eng.db.GetMeta("embedding_model"); ok {
			lastBuild, _, _ := eng.db.GetMeta("last_build")
			fmt.Printf("Index:      %s, built %s\n", model, lastBuild)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if eng.embedder.Healthy(ctx) {
			fmt.Println("Embedding:  up")
		} else {
			fmt.Println("Embedding:  unreachable")
		}

		fmt.Printf("Endpoints:  %d in pool\n", eng.llm.Pool().Size())
		for _, ep := range eng.llm.Pool().Endpoints() {
			state := "ok"
			if !ep.Healthy() {
				failures, last := ep.Stats()
				state = fmt.Sprintf("cooling down (%d failures, last: %s)", failures, last)
			}
			fmt.Printf("  %-12s %s\n", ep.Name, state)
		}

		questions, explorations := eng.guard.QuotaUsage()
		fmt.Printf("Quota:      %d/%d questions, %d/%d explorations today\n",
			questions, eng.cfg.Guard.DailyQuestionQuota,
			explorations, eng.cfg.Guard.DailyExplorationQuota)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

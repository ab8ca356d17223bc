package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func orchestrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate <case>",
		Short: "Run the agent pipeline for a case",
		Long: `Send a case to the orchestrator service. Agent suggestions are
attached to the case and it moves to proposed, or to needs_attention
when the result falls outside policy thresholds. The case is failed if
the orchestrator cannot be reached.`,
		Args: cobra.ExactArgs(1),
		RunE: runOrchestrate,
	}
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	actor, err := currentActor()
	if err != nil {
		return err
	}

	eng, store, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, err := resolveCase(ctx, store, args[0])
	if err != nil {
		return err
	}

	result, err := eng.Orchestrate(ctx, actor, c.ID)
	if err != nil {
		return err
	}

	suggestions, err := store.GetSuggestions(ctx, c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s is now %s (%d suggestions)\n", result.Name, result.State, len(suggestions))
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aioffice/internal/agents"
)

func oposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opos",
		Short: "Open item matching (Offene-Posten-Abstimmung)",
	}
	cmd.AddCommand(oposMatchCmd())
	cmd.AddCommand(oposApplyCmd())
	return cmd
}

func oposMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <case>",
		Short: "Match open items against a posted case",
		Long: `Send a posted case's open ledger lines to the matching agent. The
reconciliation suggestion is attached to the case for human review; the
case keeps its state. The case must carry a linked journal entry.`,
		Args: cobra.ExactArgs(1),
		RunE: runOposMatch,
	}
	cmd.Flags().String("lines", "", "open lines as JSON array, or @file to read from a file")
	return cmd
}

func runOposMatch(cmd *cobra.Command, args []string) error {
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

	linesArg, _ := cmd.Flags().GetString("lines")
	openLines, err := readOpenLines(linesArg)
	if err != nil {
		return err
	}

	saved, err := eng.Reconcile(ctx, actor, c.ID, openLines)
	if err != nil {
		return err
	}

	matches := 0
	for i := range saved {
		if payload, err := saved[i].ReconciliationPayload(); err == nil {
			matches += len(payload.Matches)
		}
	}
	fmt.Printf("%s: %d match(es) suggested across %d open lines\n", c.Name, matches, len(openLines))
	return nil
}

func oposApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <case>",
		Short: "Apply a case's reconciliation suggestions (approver role required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			result, err := eng.ApplyReconciliation(ctx, actor, c.ID)
			if err != nil {
				return err
			}

			fmt.Printf("reconciliation applied on %s\n", result.Name)
			return nil
		},
	}
}

func readOpenLines(arg string) ([]agents.OpenItem, error) {
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if arg[0] == '@' {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read lines file: %w", err)
		}
		raw = data
	}
	var lines []agents.OpenItem
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("open lines are not a valid JSON array: %w", err)
	}
	return lines, nil
}

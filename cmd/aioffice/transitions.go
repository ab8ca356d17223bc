package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aioffice/internal/engine"
	"aioffice/internal/model"
)

// transitionCmds builds one top level command per lifecycle transition.
func transitionCmds() []*cobra.Command {
	simple := []struct {
		run   func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error)
		use   string
		short string
	}{
		{use: "enrich <case>", short: "Enrich a new case with context data",
			run: func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
				return e.Enrich(ctx, actor, id)
			}},
		{use: "propose <case>", short: "Propose an enriched case for approval",
			run: func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
				return e.Propose(ctx, actor, id)
			}},
		{use: "approve <case>", short: "Approve a proposed case (approver role required)",
			run: func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
				return e.Approve(ctx, actor, id)
			}},
		{use: "reset <case>", short: "Reset a flagged or failed case back to new",
			run: func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
				return e.Reset(ctx, actor, id)
			}},
	}

	var cmds []*cobra.Command
	for _, def := range simple {
		run := def.run
		cmds = append(cmds, &cobra.Command{
			Use:   def.use,
			Short: def.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTransition(cmd, args[0], run)
			},
		})
	}

	cmds = append(cmds, postCaseCmd(), flagCaseCmd(), failCaseCmd())
	return cmds
}

func postCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <case>",
		Short: "Post an approved case (approver role required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moveID, _ := cmd.Flags().GetInt64("move-id")
			return runTransition(cmd, args[0],
				func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
					return e.Post(ctx, actor, id, moveID)
				})
		},
	}
	cmd.Flags().Int64("move-id", 0, "journal entry to link to the case")
	return cmd
}

func runTransition(cmd *cobra.Command, caseArg string, run func(*engine.Engine, context.Context, string, int64) (*model.Case, error)) error {
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

	c, err := resolveCase(ctx, store, caseArg)
	if err != nil {
		return err
	}

	result, err := run(eng, ctx, actor, c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s is now %s\n", result.Name, result.State)
	return nil
}

func flagCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag <case>",
		Short: "Flag a case for human attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			return runTransition(cmd, args[0],
				func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
					return e.Flag(ctx, actor, id, reason)
				})
		},
	}
	cmd.Flags().String("reason", "", "why the case needs attention")
	return cmd
}

func failCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail <case>",
		Short: "Mark a case failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cause, _ := cmd.Flags().GetString("cause")
			return runTransition(cmd, args[0],
				func(e *engine.Engine, ctx context.Context, actor string, id int64) (*model.Case, error) {
					return e.Fail(ctx, actor, id, cause)
				})
		},
	}
	cmd.Flags().String("cause", "", "what went wrong")
	return cmd
}

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <case>",
		Short: "Attach a suggestion to an enriched or proposed case",
		Args:  cobra.ExactArgs(1),
		RunE:  runAttach,
	}
	cmd.Flags().String("type", string(model.SuggestionAccountingEntry), "suggestion type")
	cmd.Flags().String("payload", "", "JSON payload, or @file to read from a file")
	cmd.Flags().Float64("confidence", 0, "confidence score (0..1)")
	cmd.Flags().Float64("risk", 0, "risk score (0..1)")
	cmd.Flags().String("explanation", "", "human readable rationale")
	return cmd
}

func runAttach(cmd *cobra.Command, args []string) error {
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

	typeName, _ := cmd.Flags().GetString("type")
	payloadArg, _ := cmd.Flags().GetString("payload")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	risk, _ := cmd.Flags().GetFloat64("risk")
	explanation, _ := cmd.Flags().GetString("explanation")

	payload, err := readPayload(payloadArg)
	if err != nil {
		return err
	}

	s, err := eng.AttachSuggestion(ctx, &model.Suggestion{
		CaseID:        c.ID,
		Type:          model.SuggestionType(typeName),
		Payload:       payload,
		Confidence:    confidence,
		RiskScore:     risk,
		Explanation:   explanation,
		RequiresHuman: true,
		AgentName:     actor,
	})
	if err != nil {
		return err
	}

	fmt.Printf("suggestion #%d attached to %s\n", s.ID, c.Name)
	return nil
}

func readPayload(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if arg[0] == '@' {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = data
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return raw, nil
}

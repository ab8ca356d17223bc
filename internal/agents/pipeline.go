package agents

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline runs the agent chain for one orchestration request: account
// assignment, then validation over its output. Requests without context
// fall through to the dummy agent.
type Pipeline struct {
	kontierung *KontierungsAgent
	validation *ValidationAgent
	opos       *OPOSAgent
	dummy      *DummyAgent
}

// NewPipeline wires the default agent chain.
func NewPipeline() *Pipeline {
	return &Pipeline{
		kontierung: NewKontierungsAgent(),
		validation: NewValidationAgent(),
		opos:       NewOPOSAgent(),
		dummy:      NewDummyAgent(),
	}
}

// Run executes the chain and assembles the orchestrate response.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	var suggestions []Suggestion

	if req.Context.Empty() {
		slog.Debug("No case context, using dummy agent", "case_id", req.CaseID)
		dummy, err := p.dummy.Run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("dummy agent failed: %w", err)
		}
		suggestions = dummy
	} else {
		entries, err := p.kontierung.Run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("kontierung agent failed: %w", err)
		}
		suggestions = entries

		validations, err := p.validation.Validate(ctx, req, entries)
		if err != nil {
			return nil, fmt.Errorf("validation agent failed: %w", err)
		}
		suggestions = append(suggestions, validations...)
	}

	slog.Info("Agent pipeline complete",
		"case_id", req.CaseID,
		"request_id", req.RequestID,
		"suggestions", len(suggestions))

	return &Response{
		CaseID:      req.CaseID,
		RequestID:   req.RequestID,
		Status:      "ok",
		Suggestions: suggestions,
	}, nil
}

// MatchOpenItems runs the open item matcher over the request's open
// lines and assembles the response.
func (p *Pipeline) MatchOpenItems(ctx context.Context, req Request) (*Response, error) {
	suggestions, err := p.opos.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("opos agent failed: %w", err)
	}

	slog.Info("Open item matching complete",
		"case_id", req.CaseID,
		"request_id", req.RequestID,
		"open_lines", len(req.Context.OpenLines))

	return &Response{
		CaseID:      req.CaseID,
		RequestID:   req.RequestID,
		Status:      "ok",
		Suggestions: suggestions,
	}, nil
}

package engine

import (
	"context"

	"aioffice/internal/agents"
	"aioffice/internal/model"
)

// OrchestratorClient calls the agent service to generate suggestions.
type OrchestratorClient interface {
	Orchestrate(ctx context.Context, req agents.Request) (*agents.Response, error)
	MatchOpenItems(ctx context.Context, req agents.Request) (*agents.Response, error)
}

// Notifier observes committed transitions. Cross-cutting concerns like
// activity feeds hang off this instead of living inside the state machine.
type Notifier interface {
	CaseTransitioned(ctx context.Context, c *model.Case, action Action, before model.CaseState)
}

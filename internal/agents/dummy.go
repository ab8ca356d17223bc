package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"aioffice/internal/model"
)

// DummyAgent produces a fixed placeholder suggestion. It serves cases with
// no usable context so the review flow can still be exercised end to end.
type DummyAgent struct{}

// NewDummyAgent creates the placeholder agent.
func NewDummyAgent() *DummyAgent {
	return &DummyAgent{}
}

// Run returns a single hardcoded accounting entry.
func (a *DummyAgent) Run(_ context.Context, _ Request) ([]Suggestion, error) {
	payload, err := json.Marshal(model.EntryPayload{
		Lines: []model.EntryLine{
			{Account: "4400", Debit: 119.00},
			{Account: "1200", Credit: 119.00},
		},
		Amount: 119.00,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dummy payload: %w", err)
	}

	return []Suggestion{
		{
			Type:          string(model.SuggestionAccountingEntry),
			Payload:       payload,
			Confidence:    0.85,
			RiskScore:     0.1,
			Explanation:   "Dummy suggestion for MVP testing",
			RequiresHuman: true,
			AgentName:     "dummy_agent",
		},
	}, nil
}

// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"
)

// CaseState is the lifecycle state of an accounting case.
type CaseState string

// Case lifecycle states.
const (
	StateNew            CaseState = "new"
	StateEnriched       CaseState = "enriched"
	StateProposed       CaseState = "proposed"
	StateApproved       CaseState = "approved"
	StatePosted         CaseState = "posted"
	StateExported       CaseState = "exported"
	StateNeedsAttention CaseState = "needs_attention"
	StateFailed         CaseState = "failed"
)

// AllStates lists every legal case state.
var AllStates = []CaseState{
	StateNew,
	StateEnriched,
	StateProposed,
	StateApproved,
	StatePosted,
	StateExported,
	StateNeedsAttention,
	StateFailed,
}

// Valid reports whether s is one of the declared case states.
func (s CaseState) Valid() bool {
	for _, state := range AllStates {
		if s == state {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the case lifecycle.
// Exported cases are done; needs_attention and failed can still be reset.
func (s CaseState) Terminal() bool {
	return s == StateExported
}

// Case represents one accounting document under AI-assisted review.
type Case struct {
	CreatedAt   time.Time
	Name        string // sequence reference, e.g. CASE-00042
	State       CaseState
	PartnerName string
	Period      string // accounting period, e.g. 2024-01
	SourceModel string
	ID          int64
	CompanyID   int64
	PartnerID   int64
	SourceID    int64
	MoveID      int64 // journal entry reference once posted
}

// HasContext reports whether enough context is present to enrich the case.
func (c *Case) HasContext() bool {
	return c.PartnerID != 0 || c.PartnerName != "" || c.Period != ""
}

// SequenceName formats a case reference from its sequence number.
func SequenceName(n int64) string {
	return fmt.Sprintf("CASE-%05d", n)
}

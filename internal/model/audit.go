package model

import "time"

// ActorType distinguishes human users from automated agents in the audit
// trail. Agents may attach suggestions but never drive state transitions.
type ActorType string

// Actor type constants.
const (
	ActorUser  ActorType = "user"
	ActorAgent ActorType = "agent"
)

// AuditEntry is the immutable record of one state transition. Entries are
// append-only; deletion is refused for everyone except the compliance
// bypass identity, and that deletion is itself recorded.
type AuditEntry struct {
	CreatedAt  time.Time
	ActorType  ActorType
	Actor      string
	Action     string
	BeforeJSON string
	AfterJSON  string
	RequestID  string
	ID         int64
	CaseID     int64
}

// Package engine implements the case state machine: guarded transitions,
// per-case serialization and the append-only audit discipline.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aioffice/internal/common"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// Action names a requested transition.
type Action string

// Declared transition actions.
const (
	ActionEnrich  Action = "enrich"
	ActionPropose Action = "propose"
	ActionApprove Action = "approve"
	ActionPost    Action = "post"
	ActionExport  Action = "export"
	ActionFlag    Action = "flag"
	ActionFail    Action = "fail"
	ActionReset   Action = "reset"
)

// transitionRule describes one row of the transition table. A nil from
// set admits every state; fromAnyNonTerminal narrows that to states that
// can still move.
type transitionRule struct {
	from               map[model.CaseState]bool
	guard              func(ctx context.Context, tx service.Transaction, c *model.Case) error
	to                 model.CaseState
	requiresApprover   bool
	fromAnyNonTerminal bool
}

var transitions = map[Action]transitionRule{
	ActionEnrich: {
		from: states(model.StateNew),
		to:   model.StateEnriched,
		guard: func(_ context.Context, _ service.Transaction, c *model.Case) error {
			if !c.HasContext() {
				return errors.New("no context data present")
			}
			return nil
		},
	},
	ActionPropose: {
		from: states(model.StateEnriched),
		to:   model.StateProposed,
		guard: func(ctx context.Context, tx service.Transaction, c *model.Case) error {
			count, err := tx.CountSuggestions(ctx, c.ID)
			if err != nil {
				return err
			}
			if count == 0 {
				return errors.New("no suggestions attached")
			}
			return nil
		},
	},
	ActionApprove: {
		from:             states(model.StateProposed),
		to:               model.StateApproved,
		requiresApprover: true,
	},
	ActionPost: {
		from:             states(model.StateApproved),
		to:               model.StatePosted,
		requiresApprover: true,
	},
	ActionExport: {
		from: states(model.StatePosted),
		to:   model.StateExported,
	},
	ActionFlag: {
		fromAnyNonTerminal: true,
		to:                 model.StateNeedsAttention,
	},
	ActionFail: {
		to: model.StateFailed,
	},
	ActionReset: {
		from:             states(model.StateNeedsAttention, model.StateFailed),
		to:               model.StateNew,
		requiresApprover: true,
	},
}

func states(list ...model.CaseState) map[model.CaseState]bool {
	set := make(map[model.CaseState]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}

// Config holds configuration options for the case engine.
type Config struct {
	OrchestratorTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		OrchestratorTimeout: 30 * time.Second,
	}
}

// Engine drives cases through the state machine. Every transition runs
// under a per-case mutex and commits state change plus exactly one audit
// entry in a single storage transaction.
type Engine struct {
	storage  service.Storage
	client   OrchestratorClient
	notifier Notifier
	locks    caseLocks
	timeout  time.Duration
}

// New creates a case engine with the given dependencies. The client may
// be nil when orchestration is not needed (pure CLI transitions).
func New(storage service.Storage, client OrchestratorClient) *Engine {
	return NewWithConfig(storage, client, DefaultConfig())
}

// NewWithConfig creates a case engine with custom configuration.
func NewWithConfig(storage service.Storage, client OrchestratorClient, config Config) *Engine {
	timeout := config.OrchestratorTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		storage: storage,
		client:  client,
		timeout: timeout,
	}
}

// SetNotifier registers an observer for committed transitions.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// caseLocks serializes transitions per case. No cross-case ordering is
// imposed.
type caseLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (l *caseLocks) acquire(id int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*sync.Mutex)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CreateCase persists a new case in state new.
func (e *Engine) CreateCase(ctx context.Context, draft *model.Case) (*model.Case, error) {
	c, err := e.storage.CreateCase(ctx, draft)
	if err != nil {
		return nil, err
	}
	slog.Info("Case created", "case", c.Name, "id", c.ID)
	return c, nil
}

// Enrich moves a case from new to enriched when context data is present.
func (e *Engine) Enrich(ctx context.Context, actor string, caseID int64) (*model.Case, error) {
	return e.transition(ctx, actor, caseID, ActionEnrich, nil, "")
}

// Propose moves a case from enriched to proposed. At least one suggestion
// must be attached.
func (e *Engine) Propose(ctx context.Context, actor string, caseID int64) (*model.Case, error) {
	return e.transition(ctx, actor, caseID, ActionPropose, nil, "")
}

// Approve moves a case from proposed to approved. Requires the approver
// capability.
func (e *Engine) Approve(ctx context.Context, actor string, caseID int64) (*model.Case, error) {
	return e.transition(ctx, actor, caseID, ActionApprove, nil, "")
}

// Post moves a case from approved to posted and links the journal entry
// when a move id is given. Requires the approver capability.
func (e *Engine) Post(ctx context.Context, actor string, caseID, moveID int64) (*model.Case, error) {
	var extra map[string]any
	if moveID != 0 {
		extra = map[string]any{"move_id": moveID}
	}
	return e.transitionWith(ctx, actor, caseID, ActionPost, transitionOpts{
		extraAfter: extra,
		setMove:    moveID,
	})
}

// Export moves a case from posted to exported.
func (e *Engine) Export(ctx context.Context, actor string, caseID int64) (*model.Case, error) {
	return e.transition(ctx, actor, caseID, ActionExport, nil, "")
}

// Flag escalates any non-terminal case to needs_attention.
func (e *Engine) Flag(ctx context.Context, actor string, caseID int64, reason string) (*model.Case, error) {
	var extra map[string]any
	if reason != "" {
		extra = map[string]any{"reason": reason}
	}
	return e.transition(ctx, actor, caseID, ActionFlag, extra, "")
}

// Fail marks a case failed from any state after an unrecoverable error.
func (e *Engine) Fail(ctx context.Context, actor string, caseID int64, cause string) (*model.Case, error) {
	var extra map[string]any
	if cause != "" {
		extra = map[string]any{"cause": cause}
	}
	return e.transition(ctx, actor, caseID, ActionFail, extra, "")
}

// Reset returns a needs_attention or failed case to new. Requires the
// approver capability.
func (e *Engine) Reset(ctx context.Context, actor string, caseID int64) (*model.Case, error) {
	return e.transition(ctx, actor, caseID, ActionReset, nil, "")
}

// transitionOpts carries orchestration extras for the audit record.
type transitionOpts struct {
	extraAfter  map[string]any
	requestID   string
	auditAction string
	actorType   model.ActorType
	setMove     int64
}

func (e *Engine) transition(ctx context.Context, actorName string, caseID int64, action Action, extraAfter map[string]any, requestID string) (*model.Case, error) {
	return e.transitionWith(ctx, actorName, caseID, action, transitionOpts{
		extraAfter: extraAfter,
		requestID:  requestID,
	})
}

// transitionWith executes one guarded transition: resolve the actor, lock
// the case, and run guard check, state mutation and audit append in a
// single storage transaction. A rejected transition writes nothing.
func (e *Engine) transitionWith(ctx context.Context, actorName string, caseID int64, action Action, opts transitionOpts) (*model.Case, error) {
	actor, err := e.resolveActor(ctx, actorName)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.acquire(caseID)
	defer unlock()

	rule, ok := transitions[action]
	if !ok {
		return nil, &TransitionError{CaseID: caseID, Action: action, Reason: "undeclared action"}
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	before := c.State

	if !e.allowedFrom(rule, before) {
		return nil, &TransitionError{CaseID: caseID, Action: action, State: before}
	}
	if rule.requiresApprover && !actor.CanApprove() {
		return nil, &AuthorizationError{CaseID: caseID, Actor: actor.Name, Action: action, State: before}
	}
	if rule.guard != nil {
		if guardErr := rule.guard(ctx, tx, c); guardErr != nil {
			return nil, &TransitionError{CaseID: caseID, Action: action, State: before, Reason: guardErr.Error()}
		}
	}

	if err := tx.UpdateCaseState(ctx, caseID, rule.to); err != nil {
		return nil, err
	}
	if opts.setMove != 0 {
		if err := tx.SetCaseMove(ctx, caseID, opts.setMove); err != nil {
			return nil, err
		}
		c.MoveID = opts.setMove
	}

	beforeJSON, afterJSON, err := auditSnapshots(before, rule.to, opts.extraAfter)
	if err != nil {
		return nil, err
	}
	auditAction := string(action)
	if opts.auditAction != "" {
		auditAction = opts.auditAction
	}
	actorType := opts.actorType
	if actorType == "" {
		actorType = model.ActorUser
	}
	if _, err := tx.AppendAuditEntry(ctx, &model.AuditEntry{
		CaseID:     caseID,
		ActorType:  actorType,
		Actor:      actor.Name,
		Action:     auditAction,
		BeforeJSON: beforeJSON,
		AfterJSON:  afterJSON,
		RequestID:  opts.requestID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	c.State = rule.to
	slog.Info("Case transitioned",
		"case", c.Name,
		"action", string(action),
		"from", string(before),
		"to", string(rule.to),
		"actor", actor.Name)

	if e.notifier != nil {
		e.notifier.CaseTransitioned(ctx, c, action, before)
	}
	return c, nil
}

func (e *Engine) allowedFrom(rule transitionRule, state model.CaseState) bool {
	if rule.from != nil {
		return rule.from[state]
	}
	if rule.fromAnyNonTerminal {
		return !state.Terminal()
	}
	return true
}

// resolveActor maps a name to its capability level. Unknown names carry
// the base user capability; transitions always need a human identity.
func (e *Engine) resolveActor(ctx context.Context, name string) (model.Actor, error) {
	if name == "" {
		return model.Actor{}, fmt.Errorf("%w: transition requires a human actor", common.ErrUnauthorized)
	}
	actor, err := e.storage.GetActor(ctx, name)
	if errors.Is(err, common.ErrNotFound) {
		return model.Actor{Name: name, Role: model.RoleUser}, nil
	}
	if err != nil {
		return model.Actor{}, err
	}
	return *actor, nil
}

func auditSnapshots(before, after model.CaseState, extraAfter map[string]any) (string, string, error) {
	beforeJSON, err := json.Marshal(map[string]any{"state": string(before)})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode before snapshot: %w", err)
	}

	afterVals := map[string]any{"state": string(after)}
	for k, v := range extraAfter {
		afterVals[k] = v
	}
	afterJSON, err := json.Marshal(afterVals)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode after snapshot: %w", err)
	}
	return string(beforeJSON), string(afterJSON), nil
}

// AttachSuggestion stores an agent or human suggestion on a case. Valid
// only while the case is enriched or proposed; the case state does not
// change. Attachment is not audited, transitions are the audited unit.
func (e *Engine) AttachSuggestion(ctx context.Context, s *model.Suggestion) (*model.Suggestion, error) {
	unlock := e.locks.acquire(s.CaseID)
	defer unlock()

	return e.attachSuggestionLocked(ctx, e.storage, s)
}

type suggestionStore interface {
	GetCase(ctx context.Context, id int64) (*model.Case, error)
	SaveSuggestion(ctx context.Context, s *model.Suggestion) (*model.Suggestion, error)
}

func (e *Engine) attachSuggestionLocked(ctx context.Context, store suggestionStore, s *model.Suggestion) (*model.Suggestion, error) {
	c, err := store.GetCase(ctx, s.CaseID)
	if err != nil {
		return nil, err
	}
	if c.State != model.StateEnriched && c.State != model.StateProposed {
		return nil, &TransitionError{
			CaseID: c.ID,
			Action: "attach_suggestion",
			State:  c.State,
			Reason: "suggestions can only be attached to enriched or proposed cases",
		}
	}

	saved, err := store.SaveSuggestion(ctx, s)
	if err != nil {
		return nil, err
	}

	slog.Debug("Suggestion attached",
		"case", c.Name,
		"type", string(saved.Type),
		"agent", saved.AgentName,
		"confidence", saved.Confidence)
	return saved, nil
}

// Suggestions returns a case's suggestions.
func (e *Engine) Suggestions(ctx context.Context, caseID int64) ([]model.Suggestion, error) {
	return e.storage.GetSuggestions(ctx, caseID)
}

// AuditTrail returns a case's audit entries, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, caseID int64) ([]model.AuditEntry, error) {
	return e.storage.GetAuditEntries(ctx, caseID)
}

// Case returns the current authoritative state of a case.
func (e *Engine) Case(ctx context.Context, caseID int64) (*model.Case, error) {
	return e.storage.GetCase(ctx, caseID)
}

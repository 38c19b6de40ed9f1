// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher implements the ApprovalDispatcher from spec.md §4.5:
// the bridge between the /credential/request handler and the human at the
// approver UI. Dispatch blocks the caller until the human answers, the
// vault has been consulted, or the bounded wait / a revoke cancels it —
// never holding the registry's mutex while it does so.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/credbroker/credbroker/internal/vault"
	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/credbroker/credbroker/pkg/secretcell"
)

// DecisionKind classifies the dispatcher's answer.
type DecisionKind int

const (
	DecisionApprove DecisionKind = iota
	DecisionDeny
	DecisionError
)

// Decision is what Dispatch returns: spec.md §4.5's Approve/Deny/Error.
type Decision struct {
	Kind       DecisionKind
	Username   string
	Password   string
	ReasonCode string
}

// Reason codes surfaced in Decision.ReasonCode.
const (
	ReasonTimeout       = "timeout"
	ReasonRevoked       = "revoked"
	ReasonUserDenied    = "denied"
	ReasonNotFound      = "not_found"
	ReasonDriverError   = "driver_error"
	ReasonPromptFailure = "prompt_failure"
)

const defaultMasterSecretRetries = 3

// Prompter is the named capability the dispatcher consumes in place of a
// duck-typed UI callback (spec.md §9): one concrete implementation prompts
// a real terminal, another is a test double.
type Prompter interface {
	// PromptUser asks whether to release a credential for domain/reason
	// to the named agent/session. approved is false on an explicit
	// denial; err is only for prompter-side failure (I/O error, etc).
	PromptUser(ctx context.Context, session registry.SessionView, domain, reason string) (approved bool, err error)

	// CollectMasterSecret gathers the vault master secret into a
	// scope-bound cell. Called only after PromptUser approves.
	CollectMasterSecret(ctx context.Context) (*secretcell.Cell, error)
}

// Dispatcher serializes human-facing prompts process-wide (spec.md §4.5
// permits either per-session or process-wide serialization; process-wide
// is simplest and matches one terminal) and enforces the bounded approval
// wait.
type Dispatcher struct {
	prompter      Prompter
	orchestrator  *vault.Orchestrator
	approvalWait  time.Duration
	masterRetries int

	promptMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Dispatcher. approvalWait of 0 uses the spec default (120s).
func New(prompter Prompter, orchestrator *vault.Orchestrator, approvalWait time.Duration) *Dispatcher {
	if approvalWait <= 0 {
		approvalWait = 120 * time.Second
	}
	return &Dispatcher{
		prompter:      prompter,
		orchestrator:  orchestrator,
		approvalWait:  approvalWait,
		masterRetries: defaultMasterSecretRetries,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Dispatch blocks until the human answers, the bounded wait elapses, or
// Cancel(session.SessionID) is called by a concurrent revoke.
func (d *Dispatcher) Dispatch(ctx context.Context, session registry.SessionView, domain, reason string) Decision {
	ctx, cancel := context.WithTimeout(ctx, d.approvalWait)
	d.registerCancel(session.SessionID, cancel)
	defer func() {
		d.clearCancel(session.SessionID)
		cancel()
	}()

	d.promptMu.Lock()
	defer d.promptMu.Unlock()

	approved, err := d.prompter.PromptUser(ctx, session, domain, reason)
	if err != nil {
		return Decision{Kind: DecisionError, ReasonCode: reasonFromCtx(ctx, ReasonPromptFailure)}
	}
	if ctx.Err() != nil {
		return Decision{Kind: DecisionError, ReasonCode: reasonFromCtx(ctx, ReasonTimeout)}
	}
	if !approved {
		return Decision{Kind: DecisionDeny, ReasonCode: ReasonUserDenied}
	}

	return d.fetchWithRetry(ctx, domain)
}

func (d *Dispatcher) fetchWithRetry(ctx context.Context, domain string) Decision {
	for attempt := 1; attempt <= d.masterRetries; attempt++ {
		if ctx.Err() != nil {
			return Decision{Kind: DecisionError, ReasonCode: reasonFromCtx(ctx, ReasonTimeout)}
		}

		cell, err := d.prompter.CollectMasterSecret(ctx)
		if err != nil {
			return Decision{Kind: DecisionError, ReasonCode: ReasonPromptFailure}
		}

		outcome := d.orchestrator.Fetch(ctx, domain, cell)
		cell.Clear()

		switch outcome.Kind {
		case vault.OutcomeCredential:
			return Decision{Kind: DecisionApprove, Username: outcome.Username, Password: outcome.Password}
		case vault.OutcomeNotFound:
			return Decision{Kind: DecisionError, ReasonCode: ReasonNotFound}
		case vault.OutcomeWrongMaster:
			continue // bounded retry per spec.md §7
		default:
			return Decision{Kind: DecisionError, ReasonCode: ReasonDriverError}
		}
	}
	// Retry allowance exhausted: UserInput(WrongMaster) converts to
	// VaultFailure(DriverError), per spec.md §7.
	return Decision{Kind: DecisionError, ReasonCode: ReasonDriverError}
}

// Cancel aborts any in-flight Dispatch for sessionID. Called by the
// /session/revoke handler so a pending prompt returns ReasonRevoked
// instead of leaving the vault claimed indefinitely.
func (d *Dispatcher) Cancel(sessionID string) {
	d.mu.Lock()
	cancel, ok := d.cancels[sessionID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Dispatcher) registerCancel(sessionID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancels[sessionID] = cancel
}

func (d *Dispatcher) clearCancel(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cancels, sessionID)
}

func reasonFromCtx(ctx context.Context, fallback string) string {
	if ctx.Err() == context.Canceled {
		return ReasonRevoked
	}
	if ctx.Err() == context.DeadlineExceeded {
		return ReasonTimeout
	}
	return fallback
}

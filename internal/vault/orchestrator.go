// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the VaultOrchestrator from spec.md §4.6: one
// unlock -> search -> lock transaction against the opaque vaultdriver.Driver
// per request, with a scope-bound release action guaranteeing the driver
// is locked again before Fetch returns down every path, including a panic
// from the driver itself.
package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/credbroker/credbroker/internal/brokererr"
	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/credbroker/credbroker/internal/vaultdriver"
	"github.com/credbroker/credbroker/pkg/secretcell"
)

// OutcomeKind classifies the result of a Fetch call.
type OutcomeKind int

const (
	OutcomeCredential OutcomeKind = iota
	OutcomeNotFound
	OutcomeWrongMaster
	OutcomeDriverError
)

// Outcome is the result of one Fetch transaction.
type Outcome struct {
	Kind     OutcomeKind
	Username string
	Password string
	Err      error
}

// Orchestrator transacts with a single opaque vaultdriver.Driver, holding
// the "only one vault operation in flight" invariant from spec.md §5.
type Orchestrator struct {
	driver vaultdriver.Driver
	gate   exclusive
}

// New builds an Orchestrator over the given driver.
func New(driver vaultdriver.Driver) *Orchestrator {
	return &Orchestrator{driver: driver}
}

// Fetch runs the unlock -> search -> lock protocol for domain, using the
// master secret borrowed from masterSecret. The caller owns masterSecret's
// lifetime; Fetch never retains a reference to it beyond this call.
func (o *Orchestrator) Fetch(ctx context.Context, domain string, masterSecret *secretcell.Cell) Outcome {
	normalizedDomain, err := normalizeDomain(domain)
	if err != nil {
		return Outcome{Kind: OutcomeDriverError, Err: err}
	}

	o.gate.Lock()
	defer o.gate.Unlock()

	secretBytes, err := masterSecret.Borrow()
	if err != nil {
		return Outcome{Kind: OutcomeDriverError, Err: brokererr.Wrap("vault.fetch", brokererr.KindVaultFailure, "master secret unavailable", err)}
	}

	return o.transact(ctx, normalizedDomain, secretBytes)
}

// transact performs steps 2-4 of spec.md §4.6 with the unlock token's
// lock-release registered before any early return, including panics.
func (o *Orchestrator) transact(ctx context.Context, domain string, secretBytes []byte) (outcome Outcome) {
	var handle string
	var unlocked bool

	defer func() {
		if !unlocked {
			return
		}
		if lockErr := o.driver.Lock(ctx, handle); lockErr != nil {
			applog.Log().Warn("vault lock failed after use", "error", lockErr.Error())
		}
	}()

	h, err := o.driver.Unlock(ctx, secretBytes)
	if err != nil {
		var wrongMaster *vaultdriver.WrongMasterError
		if errors.As(err, &wrongMaster) {
			return Outcome{Kind: OutcomeWrongMaster, Err: brokererr.Wrap("vault.fetch", brokererr.KindUserInput, "wrong master secret", err)}
		}
		return Outcome{Kind: OutcomeDriverError, Err: brokererr.Wrap("vault.fetch", brokererr.KindVaultFailure, "unlock failed", err)}
	}
	handle = h
	unlocked = true

	items, err := o.driver.List(ctx, domain, handle)
	if err != nil {
		return Outcome{Kind: OutcomeDriverError, Err: brokererr.Wrap("vault.fetch", brokererr.KindVaultFailure, "list failed", err)}
	}

	for _, item := range items {
		if item.Type == "login" && item.Username != "" && item.Password != "" {
			return Outcome{Kind: OutcomeCredential, Username: item.Username, Password: item.Password}
		}
	}
	return Outcome{Kind: OutcomeNotFound, Err: brokererr.New("vault.fetch", brokererr.KindVaultFailure, "no matching credential")}
}

// normalizeDomain validates and lowercases domain per spec.md §4.6 step 1:
// alphanumerics, dots, hyphens; length <=253.
func normalizeDomain(domain string) (string, error) {
	if domain == "" || len(domain) > 253 {
		return "", brokererr.New("vault.fetch", brokererr.KindUserInput, "domain length out of bounds")
	}
	lower := strings.ToLower(domain)
	for _, r := range lower {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '.' && r != '-' {
			return "", brokererr.New("vault.fetch", brokererr.KindUserInput, "domain contains invalid characters")
		}
	}
	return lower, nil
}

// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/credbroker/credbroker/internal/config"
	"github.com/credbroker/credbroker/internal/dispatcher"
	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/credbroker/credbroker/internal/router"
	"github.com/credbroker/credbroker/internal/vault"
	"github.com/credbroker/credbroker/internal/vaultdriver"
	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6's CLI surface.
const (
	exitOK          = 0
	exitFatal       = 1
	exitConfig      = 2
	exitInterrupted = 130

	defaultVaultWait = 10 * time.Second
)

var (
	vaultCommand string
	vaultArgs    []string
	vaultTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the broker's remote-mode HTTP surface (pairing, credential requests, health)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&vaultCommand, "vault-command", "", "vault CLI to shell out to for unlock/list/lock (required)")
	serveCmd.Flags().StringSliceVar(&vaultArgs, "vault-arg", nil, "extra argument prepended to every vault-command invocation; repeatable")
	serveCmd.Flags().DurationVar(&vaultTimeout, "vault-timeout", defaultVaultWait, "timeout for a single vault-command invocation")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load(v)
	applog.SetLevel(cfg.LogLevel)

	if cfg.Mode == config.ModeLocal {
		// Local mode is an embedding pattern, not a standalone process: the
		// agent links pkg/registry, internal/dispatcher, and internal/vault
		// directly and never reaches this binary. There is nothing for
		// `credbroker serve` to listen on.
		return exitWithCode(exitConfig, fmt.Errorf("serve: mode=local has no standalone process; embed the broker core directly"))
	}

	if vaultCommand == "" {
		return exitWithCode(exitConfig, fmt.Errorf("serve: --vault-command is required in remote mode"))
	}

	driver := vaultdriver.NewCLIDriver(vaultCommand, vaultArgs, vaultTimeout)
	orch := vault.New(driver)
	disp := dispatcher.New(dispatcher.NewTerminalPrompter(), orch, cfg.ApprovalWait)

	confirmer := dispatcher.NewPairingConfirmer()
	reg := registry.New(confirmer.OnPairingCreated,
		registry.WithPairingTTL(cfg.PairingTTL),
		registry.WithSessionIdleTTL(cfg.SessionTTL),
		registry.WithNonceWindow(cfg.RequestWindow),
	)
	rt := router.New(reg, disp, cfg.BindAddr, cfg.SweepInterval, router.WithRequestWindow(cfg.RequestWindow))

	confirmCtx, stopConfirm := context.WithCancel(context.Background())
	defer stopConfirm()
	go confirmer.Run(confirmCtx, reg)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- rt.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return exitWithCode(exitConfig, fmt.Errorf("serve: %w", err))
		}
		return nil
	case sig := <-sigCh:
		applog.Log().Info("shutting down", "signal", sig.String())
		stopConfirm()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Stop(ctx); err != nil {
			return exitWithCode(exitFatal, fmt.Errorf("serve: graceful shutdown failed: %w", err))
		}
		if sig == os.Interrupt {
			os.Exit(exitInterrupted)
		}
		return nil
	}
}

// exitWithCode prints err and terminates with the given status, matching
// spec.md §6's exit-code contract rather than cobra's default (always 1).
func exitWithCode(code int, err error) error {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
	os.Exit(code)
	return nil // unreachable
}

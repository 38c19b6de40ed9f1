// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package router implements the RequestRouter from spec.md §4.4: it
// translates the HTTP wire protocol (§6) into operations against the
// PairingRegistry, ApprovalDispatcher, and VaultOrchestrator, and is the
// only layer that knows both the wire shapes and the core's internal
// types.
package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/credbroker/credbroker/internal/metrics"
	"github.com/credbroker/credbroker/internal/validation"
	"github.com/credbroker/credbroker/pkg/registry"

	"github.com/credbroker/credbroker/internal/dispatcher"
	netutil "github.com/credbroker/credbroker/internal/net"
)

// Router owns the broker's HTTP surface: one mux, one underlying
// http.Server, and a background sweep ticker that enforces the TTLs
// spec.md §5 requires even when no request happens to touch them.
type Router struct {
	reg  *registry.Registry
	disp *dispatcher.Dispatcher

	sweepInterval time.Duration
	requestWindow time.Duration

	mux      *http.ServeMux
	srv      *http.Server
	stopOnce chan struct{}
}

// Option configures a Router built by New.
type Option func(*Router)

// WithRequestWindow overrides the default timestamp-freshness tolerance
// applied to incoming credential requests (SPEC_FULL.md §2.3).
func WithRequestWindow(d time.Duration) Option {
	return func(rt *Router) {
		if d > 0 {
			rt.requestWindow = d
		}
	}
}

// New wires a Router against the given registry and dispatcher. bindAddr
// is the loopback address to listen on; sweepInterval governs the
// periodic TTL sweep (spec.md §5: "every ≤60 seconds").
func New(reg *registry.Registry, disp *dispatcher.Dispatcher, bindAddr string, sweepInterval time.Duration, opts ...Option) *Router {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	rt := &Router{
		reg:           reg,
		disp:          disp,
		sweepInterval: sweepInterval,
		requestWindow: validation.RequestWindow,
		mux:           http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.registerRoutes()

	rt.srv = &http.Server{
		Addr:              bindAddr,
		Handler:           rt.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return rt
}

func (rt *Router) registerRoutes() {
	netutil.HandleRoute(rt.mux, "/pairing/initiate", rt.handlePairingInitiate)
	netutil.HandleRoute(rt.mux, "/pairing/exchange", rt.handlePairingExchange)
	netutil.HandleRoute(rt.mux, "/credential/request", rt.handleCredentialRequest)
	netutil.HandleRoute(rt.mux, "/session/revoke", rt.handleSessionRevoke)
	netutil.HandleRoute(rt.mux, "/session/status", rt.handleSessionStatus)
	netutil.HandleRoute(rt.mux, "/health", rt.handleHealth)
	rt.mux.Handle("/metrics", metrics.Handler())
	rt.mux.HandleFunc("/", netutil.Fallback)
}

// Handler exposes the underlying http.Handler, primarily for tests that
// drive the router with httptest without binding a real socket.
func (rt *Router) Handler() http.Handler {
	return rt.mux
}

// Start runs the HTTP server and the periodic sweep loop. It blocks until
// Stop is called (via the server's Shutdown) or the server fails to bind,
// matching the teacher's Start-returns-on-shutdown convention.
func (rt *Router) Start() error {
	rt.stopOnce = make(chan struct{})
	go rt.sweepLoop()

	applog.Log().Info("router starting", "addr", rt.srv.Addr)
	if err := rt.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("router: listen failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down and halts the sweep loop.
func (rt *Router) Stop(ctx context.Context) error {
	if rt.stopOnce != nil {
		close(rt.stopOnce)
	}
	return rt.srv.Shutdown(ctx)
}

func (rt *Router) sweepLoop() {
	ticker := time.NewTicker(rt.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rt.reg.Sweep()
			metrics.ActiveSessions.Set(float64(rt.reg.ActiveSessionCount()))
		case <-rt.stopOnce:
			return
		}
	}
}

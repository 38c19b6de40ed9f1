// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package config centralizes the broker's runtime configuration: bind
// address, operating mode, log level, and the timing constants from the
// spec (pairing TTL, session idle TTL, approval wait, and so on). Values
// are layered the way the teacher layers them: compiled-in defaults, an
// optional .env file, the environment, and finally CLI flags bound through
// viper, so that an empty environment reproduces the reference behavior
// exactly.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects which half of the broker is active in this process.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Defaults mirror spec.md §5 (Concurrency & Resource Model) exactly.
const (
	DefaultBindAddr         = "127.0.0.1:5000"
	DefaultMode             = ModeRemote
	DefaultLogLevel         = "warn"
	DefaultPairingTTL       = 5 * time.Minute
	DefaultSessionIdleTTL   = 30 * time.Minute
	DefaultApprovalWait     = 120 * time.Second
	DefaultPairPollInterval = 2 * time.Second
	DefaultPairPollDeadline = 60 * time.Second
	DefaultRequestWindow    = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultRetryMaxAttempts = 3
	DefaultRetryInitialWait = 1 * time.Second
)

// Config is the fully-resolved configuration for one broker process.
type Config struct {
	BindAddr      string
	Mode          Mode
	LogLevel      string
	PairingTTL    time.Duration
	SessionTTL    time.Duration
	ApprovalWait  time.Duration
	RequestWindow time.Duration
	SweepInterval time.Duration
}

// Load reads a .env file (if present, best-effort), then environment
// variables prefixed CREDBROKER_, into the supplied viper instance and
// returns the resolved Config. The CLI layer may bind flags onto the same
// instance before calling Load so that flags take precedence.
func Load(v *viper.Viper) *Config {
	_ = godotenv.Load()

	v.SetEnvPrefix("credbroker")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("bind_addr", DefaultBindAddr)
	v.SetDefault("mode", string(DefaultMode))
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pairing_ttl", DefaultPairingTTL)
	v.SetDefault("session_ttl", DefaultSessionIdleTTL)
	v.SetDefault("approval_wait", DefaultApprovalWait)
	v.SetDefault("request_window", DefaultRequestWindow)
	v.SetDefault("sweep_interval", DefaultSweepInterval)

	return &Config{
		BindAddr:      v.GetString("bind_addr"),
		Mode:          Mode(v.GetString("mode")),
		LogLevel:      v.GetString("log_level"),
		PairingTTL:    v.GetDuration("pairing_ttl"),
		SessionTTL:    v.GetDuration("session_ttl"),
		ApprovalWait:  v.GetDuration("approval_wait"),
		RequestWindow: v.GetDuration("request_window"),
		SweepInterval: v.GetDuration("sweep_interval"),
	}
}

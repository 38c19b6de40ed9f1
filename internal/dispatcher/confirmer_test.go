// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestPairingConfirmer_AnnouncesAndConfirms(t *testing.T) {
	var out bytes.Buffer
	confirmer := &PairingConfirmer{in: strings.NewReader(""), out: &out}

	reg := registry.New(confirmer.OnPairingCreated)
	code, _, err := reg.CreatePairing("flight-001", "agent one")
	require.NoError(t, err)
	require.Contains(t, out.String(), code)

	require.True(t, reg.MarkUserEntered(code))
}

func TestPairingConfirmer_RunConfirmsCodeTypedOnStdin(t *testing.T) {
	reg := registry.New(nil)
	code, _, err := reg.CreatePairing("flight-001", "agent one")
	require.NoError(t, err)

	var out bytes.Buffer
	confirmer := &PairingConfirmer{in: strings.NewReader(code + "\n"), out: &out}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		confirmer.Run(ctx, reg)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "confirmed")
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestPairingConfirmer_RunReportsUnknownCode(t *testing.T) {
	reg := registry.New(nil)

	var out bytes.Buffer
	confirmer := &PairingConfirmer{in: strings.NewReader("000000\n"), out: &out}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		confirmer.Run(ctx, reg)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "unknown or expired")
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestPairingConfirmer_RunStopsOnContextCancel(t *testing.T) {
	reg := registry.New(nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	confirmer := &PairingConfirmer{in: pr, out: &bytes.Buffer{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		confirmer.Run(ctx, reg)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

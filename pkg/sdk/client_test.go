// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credbroker/credbroker/internal/dispatcher"
	"github.com/credbroker/credbroker/internal/router"
	"github.com/credbroker/credbroker/internal/vault"
	"github.com/credbroker/credbroker/internal/vaultdriver"
	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/credbroker/credbroker/pkg/secretcell"
	"github.com/stretchr/testify/require"
)

type fakePrompter struct {
	approve bool
	secret  string
}

func (f *fakePrompter) PromptUser(ctx context.Context, session registry.SessionView, domain, reason string) (bool, error) {
	return f.approve, nil
}

func (f *fakePrompter) CollectMasterSecret(ctx context.Context) (*secretcell.Cell, error) {
	return secretcell.New([]byte(f.secret)), nil
}

type stubDriver struct {
	acceptSecret string
	items        []vaultdriver.Item
}

func (d *stubDriver) Unlock(ctx context.Context, secret []byte) (string, error) {
	if string(secret) != d.acceptSecret {
		return "", &vaultdriver.WrongMasterError{}
	}
	return "handle", nil
}

func (d *stubDriver) List(ctx context.Context, search, handle string) ([]vaultdriver.Item, error) {
	return d.items, nil
}

func (d *stubDriver) Lock(ctx context.Context, handle string) error { return nil }

func startTestBroker(t *testing.T, prompter dispatcher.Prompter, driver vaultdriver.Driver) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	orch := vault.New(driver)
	disp := dispatcher.New(prompter, orch, 5*time.Second)
	rt := router.New(reg, disp, "127.0.0.1:0", time.Minute)
	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestPairAndRequest_ApprovedEndToEnd(t *testing.T) {
	driver := &stubDriver{acceptSecret: "vault-master", items: []vaultdriver.Item{
		{Type: "login", Username: "alice", Password: "hunter2"},
	}}
	srv, reg := startTestBroker(t, &fakePrompter{approve: true, secret: "vault-master"}, driver)

	client := New(srv.URL, "flight-001", "Flight Agent")
	client.pollInterval = 5 * time.Millisecond

	done := make(chan struct{})
	var pairErr error
	client.OnPairingCode = func(code string) {
		require.True(t, reg.MarkUserEntered(code))
	}
	go func() {
		_, pairErr = client.Pair(context.Background())
		close(done)
	}()

	<-done
	require.NoError(t, pairErr)
	require.NotEmpty(t, client.SessionID())

	decision, err := client.Request(context.Background(), "airline.example", "book a flight")
	require.NoError(t, err)
	require.Equal(t, "approved", decision.Status)

	username, err := decision.Username.Borrow()
	require.NoError(t, err)
	require.Equal(t, "alice", string(username))

	password, err := decision.Password.Borrow()
	require.NoError(t, err)
	require.Equal(t, "hunter2", string(password))
}

func TestPair_TimesOutWhenNeverConfirmed(t *testing.T) {
	srv, _ := startTestBroker(t, &fakePrompter{approve: true}, &stubDriver{})

	client := New(srv.URL, "flight-001", "Flight Agent")
	client.pollInterval = 5 * time.Millisecond
	client.pollDeadline = 30 * time.Millisecond

	_, err := client.Pair(context.Background())
	require.ErrorIs(t, err, ErrPairingTimeout)
}

func TestRequest_DeniedReturnsStructuredDecision(t *testing.T) {
	srv, reg := startTestBroker(t, &fakePrompter{approve: false}, &stubDriver{})

	client := New(srv.URL, "flight-001", "Flight Agent")
	client.pollInterval = 5 * time.Millisecond

	pairAndWait(t, client, reg)

	decision, err := client.Request(context.Background(), "airline.example", "book a flight")
	require.NoError(t, err)
	require.Equal(t, "denied", decision.Status)
}

func TestRequest_BeforePairingIsNotPaired(t *testing.T) {
	client := New("http://127.0.0.1:1", "flight-001", "Flight Agent")
	_, err := client.Request(context.Background(), "airline.example", "book a flight")
	require.ErrorIs(t, err, ErrNotPaired)
}

func pairAndWait(t *testing.T, client *Client, reg *registry.Registry) {
	t.Helper()
	done := make(chan struct{})
	var pairErr error
	client.OnPairingCode = func(code string) {
		require.True(t, reg.MarkUserEntered(code))
	}
	go func() {
		_, pairErr = client.Pair(context.Background())
		close(done)
	}()
	<-done
	require.NoError(t, pairErr)
}

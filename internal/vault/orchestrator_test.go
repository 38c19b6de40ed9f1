// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/credbroker/credbroker/internal/vaultdriver"
	"github.com/credbroker/credbroker/pkg/secretcell"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	unlockErr   error
	listErr     error
	lockErr     error
	items       []vaultdriver.Item
	unlockCalls int
	lockCalls   int
	panicOnList bool
}

func (f *fakeDriver) Unlock(ctx context.Context, secret []byte) (string, error) {
	f.unlockCalls++
	if f.unlockErr != nil {
		return "", f.unlockErr
	}
	return "handle-1", nil
}

func (f *fakeDriver) List(ctx context.Context, search, handle string) ([]vaultdriver.Item, error) {
	if f.panicOnList {
		panic("driver exploded")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeDriver) Lock(ctx context.Context, handle string) error {
	f.lockCalls++
	return f.lockErr
}

func newCell(t *testing.T) *secretcell.Cell {
	t.Helper()
	return secretcell.New([]byte("master-secret"))
}

func TestFetch_ReturnsCredentialAndLocks(t *testing.T) {
	driver := &fakeDriver{items: []vaultdriver.Item{
		{Type: "note"},
		{Type: "login", Username: "test-user@example.com", Password: "TestPassword123!"},
	}}
	o := New(driver)

	outcome := o.Fetch(context.Background(), "AA.com", newCell(t))
	require.Equal(t, OutcomeCredential, outcome.Kind)
	require.Equal(t, "test-user@example.com", outcome.Username)
	require.Equal(t, 1, driver.lockCalls)
}

func TestFetch_NotFoundStillLocks(t *testing.T) {
	driver := &fakeDriver{items: nil}
	o := New(driver)

	outcome := o.Fetch(context.Background(), "unknown.example", newCell(t))
	require.Equal(t, OutcomeNotFound, outcome.Kind)
	require.Equal(t, 1, driver.lockCalls)
}

func TestFetch_WrongMaster(t *testing.T) {
	driver := &fakeDriver{unlockErr: &vaultdriver.WrongMasterError{}}
	o := New(driver)

	outcome := o.Fetch(context.Background(), "aa.com", newCell(t))
	require.Equal(t, OutcomeWrongMaster, outcome.Kind)
	// Unlock itself failed, so there is nothing to lock.
	require.Equal(t, 0, driver.lockCalls)
}

func TestFetch_DriverErrorOnListStillLocks(t *testing.T) {
	driver := &fakeDriver{listErr: errors.New("backend unreachable")}
	o := New(driver)

	outcome := o.Fetch(context.Background(), "aa.com", newCell(t))
	require.Equal(t, OutcomeDriverError, outcome.Kind)
	require.Equal(t, 1, driver.lockCalls)
}

func TestFetch_PanicDuringListStillLocks(t *testing.T) {
	driver := &fakeDriver{panicOnList: true}
	o := New(driver)

	require.Panics(t, func() {
		o.Fetch(context.Background(), "aa.com", newCell(t))
	})
	require.Equal(t, 1, driver.lockCalls)
}

func TestFetch_InvalidDomainRejectedBeforeUnlock(t *testing.T) {
	driver := &fakeDriver{}
	o := New(driver)

	outcome := o.Fetch(context.Background(), "not a domain!", newCell(t))
	require.Equal(t, OutcomeDriverError, outcome.Kind)
	require.Equal(t, 0, driver.unlockCalls)
}

func TestFetch_SerializesConcurrentCalls(t *testing.T) {
	driver := &fakeDriver{items: []vaultdriver.Item{{Type: "login", Username: "u", Password: "p"}}}
	o := New(driver)

	done := make(chan struct{})
	go func() {
		o.Fetch(context.Background(), "aa.com", newCell(t))
		done <- struct{}{}
	}()
	o.Fetch(context.Background(), "bb.com", newCell(t))
	<-done

	require.Equal(t, 2, driver.lockCalls)
}

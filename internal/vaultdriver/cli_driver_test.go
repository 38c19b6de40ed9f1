// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package vaultdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFakeCLI writes an executable shell script standing in for a vault
// CLI, driven entirely by argv/stdin so the test never touches a real
// vault binary.
func writeFakeCLI(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakevault.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestCLIDriver_Unlock_Success(t *testing.T) {
	path := writeFakeCLI(t, `
read secret
if [ "$secret" = "correct-horse" ] && [ "$1" = "unlock" ]; then
  echo "session-handle-1"
  exit 0
fi
exit 1
`)
	d := NewCLIDriver(path, nil, time.Second)
	handle, err := d.Unlock(context.Background(), []byte("correct-horse"))
	require.NoError(t, err)
	require.Equal(t, "session-handle-1", handle)
}

func TestCLIDriver_Unlock_WrongMaster(t *testing.T) {
	path := writeFakeCLI(t, `
read secret
exit 11
`)
	d := NewCLIDriver(path, nil, time.Second)
	_, err := d.Unlock(context.Background(), []byte("wrong"))
	var wrongErr *WrongMasterError
	require.ErrorAs(t, err, &wrongErr)
}

func TestCLIDriver_List_ParsesItems(t *testing.T) {
	path := writeFakeCLI(t, `
if [ "$1" = "list" ]; then
  echo '[{"type":"login","username":"alice","password":"hunter2"},{"type":"note","username":"","password":""}]'
  exit 0
fi
exit 1
`)
	d := NewCLIDriver(path, nil, time.Second)
	items, err := d.List(context.Background(), "airline.example", "session-handle-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, Item{Type: "login", Username: "alice", Password: "hunter2"}, items[0])
}

func TestCLIDriver_Lock_TolerantOfNonZeroExit(t *testing.T) {
	path := writeFakeCLI(t, `exit 1`)
	d := NewCLIDriver(path, nil, time.Second)
	err := d.Lock(context.Background(), "already-gone")
	require.NoError(t, err)
}

func TestCLIDriver_Unlock_TimesOut(t *testing.T) {
	path := writeFakeCLI(t, `
read secret
sleep 5
echo "too-late"
`)
	d := NewCLIDriver(path, nil, 20*time.Millisecond)
	_, err := d.Unlock(context.Background(), []byte("anything"))
	require.Error(t, err)
}

func TestCLIDriver_PassesArgsPrefix(t *testing.T) {
	path := writeFakeCLI(t, `
if [ "$1" = "--vault" ] && [ "$2" = "work" ] && [ "$3" = "unlock" ]; then
  read secret
  echo "handle-with-prefix"
  exit 0
fi
exit 1
`)
	d := NewCLIDriver(path, []string{"--vault", "work"}, time.Second)
	handle, err := d.Unlock(context.Background(), []byte("s"))
	require.NoError(t, err)
	require.Equal(t, "handle-with-prefix", handle)
}

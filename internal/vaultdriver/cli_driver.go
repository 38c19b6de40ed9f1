// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package vaultdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// wrongMasterExitCode is the exit code a CLIDriver's command must use to
// signal that the master secret itself was rejected, as opposed to any
// other failure (timeout, malformed search, I/O error). Bitwarden's `bw`
// CLI and similar unlock/list/lock-shaped tools use a dedicated exit code
// for "wrong password" for exactly this reason: callers need to tell a
// bad secret apart from a broken pipe.
const wrongMasterExitCode = 11

// cliItem is the JSON shape a CLIDriver's "list" subcommand must print to
// stdout, one array of these per invocation.
type cliItem struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CLIDriver is a Driver backed by a vault CLI run as a subprocess. It is a
// reference implementation of the opaque contract in driver.go, not a
// binding to any particular vault product: the command just needs to
// speak the unlock/list/lock subcommand shape documented below.
//
//   <command> unlock               reads the master secret on stdin,
//                                   prints a session handle on stdout.
//   <command> list --session H --search S
//                                   prints a JSON array of cliItem.
//   <command> lock --session H     invalidates the handle.
//
// The master secret is always passed on stdin, never as a command-line
// argument or environment variable, so it cannot appear in a process
// listing (spec.md §6).
type CLIDriver struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCLIDriver builds a CLIDriver invoking command with args prepended to
// every subcommand (e.g. args might carry a --config flag). timeout
// bounds each individual subprocess invocation.
func NewCLIDriver(command string, args []string, timeout time.Duration) *CLIDriver {
	return &CLIDriver{command: command, args: args, timeout: timeout}
}

func (d *CLIDriver) run(ctx context.Context, stdin []byte, subArgs ...string) (stdout, stderr []byte, err error) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	fullArgs := append(append([]string{}, d.args...), subArgs...)
	cmd := exec.CommandContext(cctx, d.command, fullArgs...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if runErr != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, nil, fmt.Errorf("vaultdriver: %s timed out after %s", subArgs, d.timeout)
		}
		if cctx.Err() == context.Canceled {
			return nil, nil, fmt.Errorf("vaultdriver: %s canceled: %w", subArgs, ctx.Err())
		}
		return outBuf.Bytes(), errBuf.Bytes(), runErr
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// Unlock pipes masterSecret to "<command> unlock" on stdin and returns the
// session handle printed on stdout.
func (d *CLIDriver) Unlock(ctx context.Context, masterSecret []byte) (string, error) {
	stdout, stderr, err := d.run(ctx, masterSecret, "unlock")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == wrongMasterExitCode {
			return "", &WrongMasterError{Cause: err}
		}
		return "", fmt.Errorf("vaultdriver: unlock failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	handle := strings.TrimSpace(string(stdout))
	if handle == "" {
		return "", errors.New("vaultdriver: unlock produced no session handle")
	}
	return handle, nil
}

// List runs "<command> list --session <handle> --search <search>" and
// decodes its stdout as a JSON array of items.
func (d *CLIDriver) List(ctx context.Context, search, sessionHandle string) ([]Item, error) {
	stdout, stderr, err := d.run(ctx, nil, "list", "--session", sessionHandle, "--search", search)
	if err != nil {
		return nil, fmt.Errorf("vaultdriver: list failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	var raw []cliItem
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("vaultdriver: list produced unparseable output: %w", err)
	}
	items := make([]Item, len(raw))
	for i, r := range raw {
		items[i] = Item{Type: r.Type, Username: r.Username, Password: r.Password}
	}
	return items, nil
}

// Lock runs "<command> lock --session <handle>". It tolerates a command
// that reports a non-zero exit for an already-invalid handle, since Lock
// must be idempotent from the broker's perspective.
func (d *CLIDriver) Lock(ctx context.Context, sessionHandle string) error {
	_, stderr, err := d.run(ctx, nil, "lock", "--session", sessionHandle)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Best-effort: the handle may already be gone. Don't fail the
			// broker's cleanup path over it, but don't swallow other
			// subprocess failures (e.g. the binary itself not found).
			return nil
		}
		return fmt.Errorf("vaultdriver: lock failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

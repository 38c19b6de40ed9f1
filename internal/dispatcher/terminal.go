// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/credbroker/credbroker/pkg/secretcell"
	"golang.org/x/term"
)

// TerminalPrompter is the reference Prompter: it prints the pending
// request to stdout and reads a yes/no answer plus the vault master
// secret from the controlling terminal, echo disabled for the secret.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalPrompter builds a prompter over the process's stdio.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stdout}
}

func (p *TerminalPrompter) PromptUser(ctx context.Context, session registry.SessionView, domain, reason string) (bool, error) {
	fmt.Fprintf(p.out, "\nagent %q (%s) requests credentials for %s\n  reason: %s\napprove? [y/N]: ",
		session.AgentName, session.AgentID, domain, reason)

	answerCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		answerCh <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errCh:
		return false, err
	case line := <-answerCh:
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func (p *TerminalPrompter) CollectMasterSecret(ctx context.Context) (*secretcell.Cell, error) {
	fmt.Fprint(p.out, "vault master password: ")

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("dispatcher: failed to read master secret: %w", err)
		}
		fmt.Fprintln(p.out)
		return secretcell.New([]byte(strings.TrimRight(line, "\r\n"))), nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: failed to read master secret: %w", err)
	}
	return secretcell.New(secret), nil
}

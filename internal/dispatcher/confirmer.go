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
)

// PairingConfirmer is the production collaborator for registry.New's
// onPairingCreated notify hook: spec.md §4.3's "human types the code into
// the approver UI" operation. It announces each new pairing code on
// stdout and reads confirmation codes typed back on stdin for as long as
// the server runs.
type PairingConfirmer struct {
	in  io.Reader
	out io.Writer
}

// NewPairingConfirmer builds a confirmer over the process's stdio.
func NewPairingConfirmer() *PairingConfirmer {
	return &PairingConfirmer{in: os.Stdin, out: os.Stdout}
}

// OnPairingCreated is the registry's notify callback. It has no
// dependency on the registry itself, which is what lets serveCmd pass it
// to registry.New before the *registry.Registry it will later drive via
// Run even exists.
func (c *PairingConfirmer) OnPairingCreated(agentID, agentName, pairingCode string) {
	fmt.Fprintf(c.out, "\npairing request from %q (%s): code %s\ntype this code here once the agent has displayed it, to confirm pairing.\n", agentName, agentID, pairingCode)
}

// Run reads newline-terminated pairing codes from stdin and confirms
// each against reg, until ctx is done. Unrecognized or expired codes are
// reported and otherwise ignored; Run never returns an error since a bad
// line from the human is not fatal to the server.
func (c *PairingConfirmer) Run(ctx context.Context, reg *registry.Registry) {
	lineCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		close(lineCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lineCh:
			if !ok {
				return
			}
			code := strings.TrimSpace(line)
			if code == "" {
				continue
			}
			if reg.MarkUserEntered(code) {
				fmt.Fprintf(c.out, "pairing %s confirmed\n", code)
			} else {
				fmt.Fprintf(c.out, "pairing %s unknown or expired\n", code)
			}
		}
	}
}

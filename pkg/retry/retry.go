// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package retry adapts the teacher's exponential-backoff retrier down to
// the one shape pkg/sdk actually needs: a bounded number of attempts
// (spec.md §4.7's "retry transient errors up to 3 times"), not an
// open-ended time budget.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 3 * time.Second
	defaultMaxElapsedTime  = 30 * time.Second
	defaultMultiplier      = 2.0
)

// ExponentialRetrier retries an operation with exponential backoff.
type ExponentialRetrier struct {
	exp        *backoff.ExponentialBackOff
	newBackOff func() backoff.BackOff
}

// RetrierOption configures an ExponentialRetrier.
type RetrierOption func(*ExponentialRetrier)

// BackOffOption configures the underlying exponential backoff.
type BackOffOption func(*backoff.ExponentialBackOff)

// NewExponentialRetrier builds a retrier with the teacher's defaults,
// then applies opts.
func NewExponentialRetrier(opts ...RetrierOption) *ExponentialRetrier {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxInterval = defaultMaxInterval
	b.MaxElapsedTime = defaultMaxElapsedTime
	b.Multiplier = defaultMultiplier

	r := &ExponentialRetrier{
		exp: b,
		newBackOff: func() backoff.BackOff {
			return b
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RetryWithBackoff runs operation until it succeeds, a non-retryable
// (Permanent) error is returned, the backoff is exhausted, or ctx is done.
func (r *ExponentialRetrier) RetryWithBackoff(ctx context.Context, operation func() error) error {
	return backoff.Retry(operation, backoff.WithContext(r.newBackOff(), ctx))
}

// WithBackOffOptions applies opts to the retrier's underlying
// exponential backoff.
func WithBackOffOptions(opts ...BackOffOption) RetrierOption {
	return func(r *ExponentialRetrier) {
		for _, opt := range opts {
			opt(r.exp)
		}
	}
}

// WithInitialInterval sets the initial interval between retries.
func WithInitialInterval(d time.Duration) BackOffOption {
	return func(b *backoff.ExponentialBackOff) {
		b.InitialInterval = d
	}
}

// WithMaxRetries caps the number of retries after the first attempt (n
// retries, n+1 attempts in all) regardless of elapsed time,
// for the client SDK's "retry transient errors up to 3 times" rule
// (spec.md §4.7) rather than a pure time budget.
func WithMaxRetries(n uint64) RetrierOption {
	return func(r *ExponentialRetrier) {
		inner := r.newBackOff
		r.newBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(inner(), n)
		}
	}
}

// Permanent marks err as non-retryable, stopping the retry loop
// immediately. pkg/sdk uses it for a request that cannot be built; 4xx
// responses are not retried either, but pkg/sdk handles those by returning
// nil from the operation with the status captured for the caller.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

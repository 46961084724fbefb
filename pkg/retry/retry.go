// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry runs unary upstream calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the number of attempts including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Zero means no cap.
	MaxBackoff time.Duration

	// JitterFactor is the maximum jitter as a fraction of the wait (0-1).
	JitterFactor float64
}

// NoRetry is a Policy that makes exactly one attempt.
var NoRetry = Policy{MaxAttempts: 1}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do executes fn until it succeeds, the attempts run out, or ctx is done.
//
// # Description
//
// An error is retried unless ctx itself has ended or the error is
// context.Canceled. A per-attempt deadline created inside fn does not stop
// further attempts. The wait doubles after every failed attempt.
//
// # Outputs
//
//   - int: Number of attempts made.
//   - error: nil on success, otherwise the last attempt's error (or
//     ctx.Err() if the context ended while waiting).
func Do(ctx context.Context, p Policy, fn Func) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
			return attempt, lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(jitter(wait, p.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}

		wait *= 2
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
	}
	return attempts, lastErr
}

func jitter(d time.Duration, factor float64) time.Duration {
	if d <= 0 || factor <= 0 {
		return d
	}
	if factor > 1 {
		factor = 1
	}
	delta := float64(d) * factor * (rand.Float64()*2 - 1)
	return d + time.Duration(delta)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"errors"
	"fmt"
)

// UpstreamKind names the upstream stage that failed.
type UpstreamKind string

const (
	UpstreamReformulation UpstreamKind = "reformulation"
	UpstreamEmbedding     UpstreamKind = "embedding"
	UpstreamRetrieval     UpstreamKind = "retrieval"
	UpstreamGeneration    UpstreamKind = "generation"
	UpstreamTimeout       UpstreamKind = "timeout"
)

// UpstreamError wraps a failed call to the generation or similarity service.
//
// # Description
//
// UpstreamError is surfaced to the client as an error frame and returns the
// session to AwaitingInput. It never terminates the session.
//
// # Fields
//
//   - Kind: Stage that failed. Deadline expiry is reported as UpstreamTimeout.
//   - Op: Short operation label for logs, e.g. "ollama.embed".
//   - Err: Underlying cause, available through errors.Unwrap.
//
// # Examples
//
//	var ue *datatypes.UpstreamError
//	if errors.As(err, &ue) && ue.Kind == datatypes.UpstreamTimeout {
//	    // ...
//	}
type UpstreamError struct {
	Kind UpstreamKind
	Op   string
	Err  error
}

// NewUpstreamError wraps err, promoting context deadline expiry to
// UpstreamTimeout. A nil err yields nil.
func NewUpstreamError(kind UpstreamKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *UpstreamError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = UpstreamTimeout
	}
	return &UpstreamError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstreamError reports whether err is or wraps an *UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

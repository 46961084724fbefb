// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"io"
	"sync"
)

// callbackStream adapts a push-style generation call into a Stream.
//
// # Description
//
// The producer runs on its own goroutine and hands each chunk over an
// unbuffered channel, so it never runs more than one chunk ahead of the
// consumer. When the producer returns without error a final empty fragment
// is delivered; when it returns an error, Next reports that error.
type callbackStream struct {
	fragments chan StreamFragment
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once

	// err is written by the producer before done is closed.
	err      error
	finished bool
}

// produceFunc runs the generation, calling emit for every chunk.
type produceFunc func(ctx context.Context, emit func(content string) error) error

// newCallbackStream starts produce and returns the consuming side.
func newCallbackStream(ctx context.Context, produce produceFunc) *callbackStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &callbackStream{
		fragments: make(chan StreamFragment),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go func() {
		defer close(s.done)

		emit := func(content string) error {
			if content == "" {
				return nil
			}
			select {
			case s.fragments <- StreamFragment{Content: content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := produce(ctx, emit); err != nil {
			s.err = err
			return
		}
		select {
		case s.fragments <- StreamFragment{Final: true}:
		case <-ctx.Done():
			s.err = ctx.Err()
		}
	}()

	return s
}

// Next implements Stream.
func (s *callbackStream) Next(ctx context.Context) (StreamFragment, error) {
	if s.finished {
		return StreamFragment{}, io.EOF
	}
	select {
	case frag := <-s.fragments:
		if frag.Final {
			s.finished = true
		}
		return frag, nil
	case <-s.done:
		s.finished = true
		if s.err != nil {
			return StreamFragment{}, s.err
		}
		return StreamFragment{}, io.ErrUnexpectedEOF
	case <-ctx.Done():
		return StreamFragment{}, ctx.Err()
	}
}

// Close implements Stream.
func (s *callbackStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

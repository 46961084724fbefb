// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/ragstream/pkg/retry"
	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Cycle Events
// =============================================================================

type cycleEventKind int

const (
	// eventStage moves the session to another state.
	eventStage cycleEventKind = iota

	// eventStreamOpened carries the prompt turn to persist.
	eventStreamOpened

	// eventFragment carries one generation fragment.
	eventFragment

	// eventFailed carries an upstream error. It ends the cycle.
	eventFailed
)

// cycleEvent is sent from the worker to the engine loop.
type cycleEvent struct {
	kind     cycleEventKind
	state    State
	turn     datatypes.ChatTurn
	fragment llm.StreamFragment
	err      error
}

// cycle is the loop-side record of the active request cycle.
type cycle struct {
	question string
	started  time.Time
	cancel   context.CancelFunc
	span     trace.Span

	// events is unbuffered: the worker blocks until the loop takes each event.
	events chan cycleEvent

	// acks releases the worker to request the next fragment.
	acks chan struct{}

	fragments int
	response  strings.Builder
}

// =============================================================================
// Loop Side
// =============================================================================

// startCycle acknowledges question and launches the worker.
func (e *Engine) startCycle(ctx context.Context, question string) error {
	if err := e.writeFrame(datatypes.NewUserMessageFrame(question)); err != nil {
		return err
	}
	e.logger.Info("Question received", "question_bytes", len(question))

	cycleCtx, cancel := context.WithCancel(ctx)
	cycleCtx, span := tracer.Start(cycleCtx, "session.request_cycle")
	span.SetAttributes(
		attribute.String("session.id", e.id),
		attribute.Bool("session.use_index", e.cfg.UseIndex),
		attribute.Bool("session.use_chat_history", e.cfg.UseChatHistory),
	)

	c := &cycle{
		question: question,
		started:  time.Now(),
		cancel:   cancel,
		span:     span,
		events:   make(chan cycleEvent),
		acks:     make(chan struct{}, 1),
	}
	e.cycle = c
	e.setState(firstStage(e.cfg))

	w := &worker{
		cfg:      e.cfg,
		deps:     e.deps,
		metrics:  e.metrics,
		snapshot: e.history.Snapshot(),
		events:   c.events,
		acks:     c.acks,
	}
	go w.run(cycleCtx, question)
	return nil
}

// handleCycleEvent applies one worker event. The returned error is a
// transport failure.
func (e *Engine) handleCycleEvent(ctx context.Context, ev cycleEvent) error {
	c := e.cycle
	switch ev.kind {
	case eventStage:
		e.setState(ev.state)
		return nil

	case eventStreamOpened:
		e.history.Append(ev.turn)
		return nil

	case eventFragment:
		return e.deliverFragment(ctx, c, ev.fragment)

	case eventFailed:
		e.reportUpstreamError(ev.err)
		c.span.RecordError(ev.err)
		c.span.SetStatus(codes.Error, ev.err.Error())
		e.finishCycle(observability.CycleUpstreamError)
		if err := e.writeError(datatypes.CodeUpstreamError, describeUpstreamError(ev.err)); err != nil {
			return err
		}
		return e.startNext(ctx)
	}
	return nil
}

// deliverFragment writes one fragment and either releases the worker or
// completes the cycle.
func (e *Engine) deliverFragment(ctx context.Context, c *cycle, frag llm.StreamFragment) error {
	if c.fragments == 0 {
		e.metrics.FirstFragment(time.Since(c.started))
	}
	c.fragments++
	c.response.WriteString(frag.Content)

	frame := datatypes.NewChunkFrame(frag.Content)
	if frag.Final {
		frame = datatypes.NewEndFrame(frag.Content)
	}
	if err := e.writeFrame(frame); err != nil {
		return err
	}
	e.metrics.FragmentWritten()

	if !frag.Final {
		c.acks <- struct{}{}
		return nil
	}

	e.history.Append(datatypes.AssistantTurn(c.response.String()))
	c.span.SetAttributes(attribute.Int("session.fragments", c.fragments))
	e.logger.Info("Answer streamed",
		"fragments", c.fragments,
		"answer_bytes", c.response.Len(),
		"duration", time.Since(c.started),
	)
	e.finishCycle(observability.CycleSuccess)
	return e.startNext(ctx)
}

// finishCycle releases the active cycle and returns to AwaitingInput.
func (e *Engine) finishCycle(status observability.CycleStatus) {
	c := e.cycle
	if c == nil {
		return
	}
	c.cancel()
	c.span.End()
	e.metrics.CycleFinished(status, time.Since(c.started))
	e.cycle = nil
	e.setState(StateAwaitingInput)
}

// abortCycle cancels the active cycle without draining it.
func (e *Engine) abortCycle() {
	c := e.cycle
	if c == nil {
		return
	}
	e.logger.Info("Request cycle aborted", "fragments_delivered", c.fragments)
	c.span.SetStatus(codes.Error, "aborted")
	c.cancel()
	c.span.End()
	e.metrics.CycleFinished(observability.CycleAborted, time.Since(c.started))
	e.cycle = nil
	e.queue = nil
}

func (e *Engine) reportUpstreamError(err error) {
	var ue *datatypes.UpstreamError
	kind := "unknown"
	if errors.As(err, &ue) {
		kind = string(ue.Kind)
	}
	e.metrics.UpstreamError(kind)
	e.logger.Error("Request cycle failed", "kind", kind, "error", err)
}

// describeUpstreamError renders the client-facing message. It names the
// failing stage and leaves the underlying cause to the server log.
func describeUpstreamError(err error) string {
	var ue *datatypes.UpstreamError
	if !errors.As(err, &ue) {
		return "request failed"
	}
	if ue.Kind == datatypes.UpstreamTimeout {
		return fmt.Sprintf("upstream call timed out (%s)", ue.Op)
	}
	return fmt.Sprintf("%s failed", ue.Kind)
}

// =============================================================================
// Worker Side
// =============================================================================

// worker performs the blocking calls of one request cycle. It never touches
// the engine; everything it learns is sent over events.
type worker struct {
	cfg      *Config
	deps     Dependencies
	metrics  *observability.SessionMetrics
	snapshot []datatypes.ChatTurn
	events   chan<- cycleEvent
	acks     <-chan struct{}
}

// emit sends ev to the loop. It returns false once the cycle is cancelled.
func (w *worker) emit(ctx context.Context, ev cycleEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) fail(ctx context.Context, err error) {
	w.emit(ctx, cycleEvent{kind: eventFailed, err: err})
}

func (w *worker) run(ctx context.Context, question string) {
	if !w.cfg.UseChatHistory {
		rewritten, err := w.reformulate(ctx, question)
		if err != nil {
			w.fail(ctx, err)
			return
		}
		question = rewritten
	}

	contextText := ""
	if w.cfg.UseIndex {
		if !w.emit(ctx, cycleEvent{kind: eventStage, state: StateRetrieving}) {
			return
		}
		var err error
		contextText, err = w.retrieve(ctx, question)
		if err != nil {
			w.fail(ctx, err)
			return
		}
	}

	if !w.emit(ctx, cycleEvent{kind: eventStage, state: StateGenerating}) {
		return
	}
	w.generate(ctx, contextText, question)
}

// reformulate rewrites question against the history snapshot.
func (w *worker) reformulate(ctx context.Context, question string) (string, error) {
	var out string
	_, err := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context, _ int) error {
		callCtx, cancel := w.upstreamContext(ctx)
		defer cancel()
		var err error
		out, err = w.deps.Reformulator.Reformulate(callCtx, w.snapshot, question)
		return err
	})
	if err != nil {
		return "", datatypes.NewUpstreamError(datatypes.UpstreamReformulation, "reformulate", err)
	}
	return out, nil
}

// retrieve embeds question, queries the index and assembles the context.
func (w *worker) retrieve(ctx context.Context, question string) (string, error) {
	var vector []float32
	_, err := retry.Do(ctx, w.cfg.Retry, func(ctx context.Context, _ int) error {
		callCtx, cancel := w.upstreamContext(ctx)
		defer cancel()
		var err error
		vector, err = w.deps.Embedder.Embed(callCtx, question)
		return err
	})
	if err != nil {
		return "", datatypes.NewUpstreamError(datatypes.UpstreamEmbedding, "embed", err)
	}

	var passages []retrieval.Passage
	_, err = retry.Do(ctx, w.cfg.Retry, func(ctx context.Context, _ int) error {
		callCtx, cancel := w.upstreamContext(ctx)
		defer cancel()
		var err error
		passages, err = w.deps.Retriever.Query(callCtx, vector, w.cfg.MaxResults)
		return err
	})
	if err != nil {
		return "", datatypes.NewUpstreamError(datatypes.UpstreamRetrieval, "query", err)
	}

	contextText, skipped := retrieval.AssembleContext(passages)
	w.metrics.PassagesSkipped(skipped)
	return contextText, nil
}

// generate opens the stream and hands fragments to the loop one at a time.
func (w *worker) generate(ctx context.Context, contextText, question string) {
	prompt, err := llm.BuildPrompt(contextText, question)
	if err != nil {
		w.fail(ctx, datatypes.NewUpstreamError(datatypes.UpstreamGeneration, "prompt", err))
		return
	}

	promptTurn := datatypes.UserTurn(prompt)
	var messages []datatypes.ChatTurn
	if w.cfg.UseChatHistory {
		messages = append(w.snapshot, promptTurn)
	} else {
		messages = []datatypes.ChatTurn{datatypes.SystemTurn(w.cfg.SystemPrompt), promptTurn}
	}

	genCtx := ctx
	if w.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, w.cfg.GenerationTimeout)
		defer cancel()
	}

	stream, err := w.deps.Streamer.StreamChat(genCtx, messages)
	if err != nil {
		w.fail(ctx, datatypes.NewUpstreamError(datatypes.UpstreamGeneration, "stream_open", err))
		return
	}
	defer stream.Close()

	if !w.emit(ctx, cycleEvent{kind: eventStreamOpened, turn: promptTurn}) {
		return
	}

	for {
		frag, err := stream.Next(genCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			w.fail(ctx, datatypes.NewUpstreamError(datatypes.UpstreamGeneration, "stream_next", err))
			return
		}
		if !w.emit(ctx, cycleEvent{kind: eventFragment, fragment: frag}) {
			return
		}
		if frag.Final {
			return
		}
		select {
		case <-w.acks:
		case <-ctx.Done():
			return
		}
	}
}

// upstreamContext bounds one unary upstream call.
func (w *worker) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.UpstreamTimeout)
}

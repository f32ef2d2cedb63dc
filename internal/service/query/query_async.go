package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duck-ask/internal/chart"
	"duck-ask/internal/domain"
)

const (
	stageInterpret = "interpret"
	stageExecute   = "execute"
)

// errAbandoned is returned by callWithRetry when the task context was
// cancelled, either by Cancel or by Close.
var errAbandoned = errors.New("pipeline task abandoned")

// runPipeline drives one interpretation attempt and, if it yields a query,
// execution and chart selection. It runs without holding e.mu except while
// applying results; a record that turned terminal meanwhile keeps its state
// and the late result is dropped.
func (s *Service) runPipeline(ctx context.Context, e *entry, req domain.InterpretRequest) {
	e.mu.Lock()
	if e.rec.State.Terminal() {
		e.mu.Unlock()
		return
	}
	if e.rec.State != domain.StateInterpreting {
		e.rec.State = domain.StateInterpreting
		s.publish(ctx, e)
	}
	e.mu.Unlock()

	interp, err := callWithRetry(ctx, s, stageInterpret, s.opts.InterpretTimeout, func(callCtx context.Context) (*domain.Interpretation, error) {
		out, err := s.interpreter.Interpret(callCtx, req)
		if err == nil && out == nil {
			err = domain.ErrInterpretation("interpreter returned no result")
		}
		return out, err
	})

	e.mu.Lock()
	if e.rec.State.Terminal() {
		e.mu.Unlock()
		return
	}
	if err != nil {
		s.failCall(ctx, e, domain.ErrorKindInterpretation, err)
		e.mu.Unlock()
		return
	}
	s.advance(ctx, e, domain.StageParse)

	if interp.Ambiguous {
		s.awaitClarification(ctx, e, interp)
		e.mu.Unlock()
		return
	}

	queryText := strings.TrimSpace(interp.GeneratedQueryText)
	if queryText == "" {
		s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindInterpretation, "interpreter returned neither a question nor a query"))
		e.mu.Unlock()
		return
	}
	e.rec.GeneratedQueryText = &queryText
	e.rec.State = domain.StateQueryGenerated
	s.advance(ctx, e, domain.StageGenerateQuery)
	s.publish(ctx, e)

	e.rec.State = domain.StateExecuting
	s.publish(ctx, e)
	dataSource := e.rec.Request.DataSourceRef
	e.mu.Unlock()

	rs, err := callWithRetry(ctx, s, stageExecute, s.opts.ExecuteTimeout, func(callCtx context.Context) (*domain.ResultSet, error) {
		out, err := s.executor.Execute(callCtx, queryText, dataSource)
		if err == nil && out == nil {
			err = domain.ErrExecution("executor returned no result set")
		}
		return out, err
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State.Terminal() {
		return
	}
	if err != nil {
		s.failCall(ctx, e, domain.ErrorKindExecution, err)
		return
	}
	s.advance(ctx, e, domain.StageExecute)

	result := *rs
	if result.TotalRows < len(result.Rows) {
		result.TotalRows = len(result.Rows)
	}
	spec, err := chart.Classify(result, "")
	if err != nil {
		s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindShape, "%s", err.Error()))
		return
	}

	now := s.now().UTC()
	e.rec.Result = &result
	e.rec.Chart = &spec
	e.rec.State = domain.StateCompleted
	e.rec.CompletedAt = &now
	s.advance(ctx, e, domain.StageFormatResults)
	s.publish(ctx, e)
	s.metrics.Finished(string(domain.StateCompleted), "")
	s.logger.InfoContext(ctx, "request completed",
		"request_id", e.rec.RequestID(), "rows", len(result.Rows), "total_rows", result.TotalRows, "chart", spec.Kind)
}

// awaitClarification records the interpreter's question, or fails the
// record when the configured number of rounds is used up. Caller holds e.mu.
func (s *Service) awaitClarification(ctx context.Context, e *entry, interp *domain.Interpretation) {
	limit := s.opts.MaxClarificationRounds
	if answered := e.clar.Answered(); limit > 0 && answered >= limit {
		s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindClarificationLimitExceeded,
			"question is still ambiguous after %d clarification rounds", answered))
		return
	}
	if _, err := e.clar.RecordQuestion(interp.Question, interp.Suggestions); err != nil {
		s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindInterpretation, "ambiguous interpretation: %s", err.Error()))
		return
	}
	e.rec.Clarifications = e.clar.History()
	e.rec.State = domain.StateAwaitingClarification
	s.publish(ctx, e)
}

// advance completes a stage. An out-of-order completion is a programming
// error and is logged rather than corrupting the tracker.
func (s *Service) advance(ctx context.Context, e *entry, stage domain.Stage) {
	if err := e.progress.advance(stage); err != nil {
		s.logger.ErrorContext(ctx, "progress out of order", "request_id", e.rec.RequestID(), "error", err)
	}
}

// failCall turns a collaborator failure into the record's terminal error.
// Caller holds e.mu.
func (s *Service) failCall(ctx context.Context, e *entry, kind domain.ErrorKind, err error) {
	if errors.Is(err, errAbandoned) {
		s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindCancelled, "service shutting down"))
		return
	}
	s.fail(ctx, e, domain.NewPipelineError(kind, "%s", err.Error()))
}

// callWithRetry runs fn with a per-attempt deadline and retries a failed
// attempt once. Cancellation of ctx is never retried.
func callWithRetry[T any](ctx context.Context, s *Service, stage string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		out, err := callOnce(callCtx, fn)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if ctx.Err() != nil {
			s.metrics.CallFinished(stage, "abandoned", time.Since(start))
			return zero, errAbandoned
		}
		if err == nil {
			s.metrics.CallFinished(stage, "ok", time.Since(start))
			return out, nil
		}

		var tErr *domain.TimeoutError
		if timedOut || errors.As(err, &tErr) {
			s.metrics.CallFinished(stage, "timeout", time.Since(start))
			lastErr = fmt.Errorf("%s timed out after %s: %w", stage, timeout, err)
		} else {
			s.metrics.CallFinished(stage, "error", time.Since(start))
			lastErr = err
		}

		if attempt == maxCallAttempts {
			break
		}
		s.metrics.Retried(stage)
		s.logger.WarnContext(ctx, "external call failed, retrying",
			"stage", stage, "attempt", attempt, "error", lastErr)

		select {
		case <-ctx.Done():
			return zero, errAbandoned
		case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", stage, maxCallAttempts, lastErr)
}

// callOnce returns as soon as fn finishes or ctx is done, whichever comes
// first. A call that ignores its context keeps running in the background
// and its result is dropped.
func callOnce[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		out T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		out, err := fn(ctx)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-ask/internal/domain"
	"duck-ask/internal/testutil"
)

func newTestService(t *testing.T, interp domain.Interpreter, exec domain.Executor, opts Options) (*Service, *testutil.MockHistoryStore) {
	t.Helper()
	history := &testutil.MockHistoryStore{}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	svc := NewService(interp, exec, testutil.NewStaticCatalog("demo", "warehouse"), history, opts)
	t.Cleanup(svc.Close)
	return svc, history
}

func waitForState(t *testing.T, svc *Service, id string, want domain.ExecutionState) *domain.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := svc.Status(context.Background(), id)
		require.NoError(t, err)
		if snap.State == want {
			return snap
		}
		require.True(t, time.Now().Before(deadline), "request stuck in %s, want %s", snap.State, want)
		time.Sleep(5 * time.Millisecond)
	}
}

func sqlInterpreter(query string) *testutil.MockInterpreter {
	return &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{GeneratedQueryText: query}, nil
	}}
}

func staticExecutor(rs domain.ResultSet) *testutil.MockExecutor {
	return &testutil.MockExecutor{ExecuteFn: func(_ context.Context, _, _ string) (*domain.ResultSet, error) {
		out := rs
		return &out, nil
	}}
}

var regionTotals = domain.ResultSet{
	Columns:   []string{"Region", "Total"},
	Rows:      [][]interface{}{{"North", 120}, {"South", 95}},
	TotalRows: 2,
}

func TestService_ClarificationRoundTrip(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
		if len(req.PriorTurns) == 0 {
			return &domain.Interpretation{
				Ambiguous:   true,
				Question:    "Which time period?",
				Suggestions: []string{"This month", "This year"},
			}, nil
		}
		return &domain.Interpretation{GeneratedQueryText: "SELECT SUM(amount) AS total FROM sales WHERE year = 2026"}, nil
	}}
	exec := staticExecutor(domain.ResultSet{Columns: []string{"total"}, Rows: [][]interface{}{{4200}}, TotalRows: 1})
	svc, history := newTestService(t, interp, exec, Options{})

	submitted, err := svc.Submit(context.Background(), "total sales", "demo")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmitted, submitted.State)
	id := submitted.RequestID

	awaiting := waitForState(t, svc, id, domain.StateAwaitingClarification)
	assert.Equal(t, 25, awaiting.Percent)
	assert.Equal(t, domain.StageParse, awaiting.Stage)
	require.NotNil(t, awaiting.ClarificationQuestion)
	assert.Equal(t, "Which time period?", *awaiting.ClarificationQuestion)
	assert.Equal(t, []string{"This month", "This year"}, awaiting.Suggestions)

	ack, err := svc.AnswerClarification(context.Background(), id, "This year")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInterpreting, ack.State)
	assert.Equal(t, 25, ack.Percent)

	done := waitForState(t, svc, id, domain.StateCompleted)
	assert.Equal(t, 100, done.Percent)
	assert.Equal(t, domain.StageFormatResults, done.Stage)
	assert.Equal(t, 1, done.ClarificationRounds)
	assert.Nil(t, done.Error)
	assert.Nil(t, done.ClarificationQuestion)
	require.NotNil(t, done.CompletedAt)

	calls := interp.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].PriorTurns, 1)
	assert.Equal(t, "Which time period?", calls[1].PriorTurns[0].QuestionText)
	assert.Equal(t, "This year", *calls[1].PriorTurns[0].AnswerText)
	assert.Equal(t, "demo", calls[1].DataSourceRef)

	out, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(amount) AS total FROM sales WHERE year = 2026", out.GeneratedQueryText)
	assert.Equal(t, domain.ChartKPI, out.ChartSpec.Kind)
	assert.Equal(t, 4200, out.ChartSpec.PrimaryValue)

	states := history.States()
	assert.Equal(t, []domain.ExecutionState{
		domain.StateSubmitted,
		domain.StateInterpreting,
		domain.StateAwaitingClarification,
		domain.StateInterpreting,
		domain.StateQueryGenerated,
		domain.StateExecuting,
		domain.StateCompleted,
	}, states)

	var percents []int
	var lastRevision int64
	for _, rec := range history.Records() {
		percents = append(percents, rec.Percent)
		assert.Greater(t, rec.Revision, lastRevision)
		lastRevision = rec.Revision
	}
	assert.Equal(t, []int{0, 0, 25, 25, 50, 50, 100}, percents)
}

func TestService_ResultSetOnlyWhenCompleted(t *testing.T) {
	t.Parallel()

	svc, history := newTestService(t, sqlInterpreter("SELECT region, total FROM t"), staticExecutor(regionTotals), Options{})

	snap, err := svc.Submit(context.Background(), "totals by region", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateCompleted)

	for _, rec := range history.Records() {
		if rec.State == domain.StateCompleted {
			require.NotNil(t, rec.Result)
			assert.Nil(t, rec.Error)
			require.NotNil(t, rec.Chart)
			assert.Equal(t, domain.ChartBar, rec.Chart.Kind)
			continue
		}
		assert.Nil(t, rec.Result, "state %s must not carry a result", rec.State)
		assert.Nil(t, rec.Error)
	}
}

func TestService_ExecutionFailsAfterOneRetry(t *testing.T) {
	t.Parallel()

	exec := &testutil.MockExecutor{ExecuteFn: func(_ context.Context, _, _ string) (*domain.ResultSet, error) {
		return nil, domain.ErrExecution("relation \"sales\" does not exist")
	}}
	svc, _ := newTestService(t, sqlInterpreter("SELECT * FROM sales"), exec, Options{})

	snap, err := svc.Submit(context.Background(), "show sales", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.ErrorKindExecution, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "does not exist")
	assert.Equal(t, 50, failed.Percent)
	assert.Equal(t, 2, exec.CallCount())
}

func TestService_TransientFailureRecovers(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	exec := &testutil.MockExecutor{ExecuteFn: func(_ context.Context, _, _ string) (*domain.ResultSet, error) {
		if attempts.Add(1) == 1 {
			return nil, domain.ErrExecution("connection reset by peer")
		}
		out := regionTotals
		return &out, nil
	}}
	svc, _ := newTestService(t, sqlInterpreter("SELECT 1"), exec, Options{})

	snap, err := svc.Submit(context.Background(), "totals", "demo")
	require.NoError(t, err)

	done := waitForState(t, svc, snap.RequestID, domain.StateCompleted)
	assert.Equal(t, 100, done.Percent)
	assert.Equal(t, 2, exec.CallCount())
}

func TestService_InterpretationFailsAfterOneRetry(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return nil, errors.New("model unavailable")
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "total sales", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.ErrorKindInterpretation, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "model unavailable")
	assert.Equal(t, 0, failed.Percent)
	assert.Len(t, interp.Calls(), 2)
}

func TestService_ExecutionTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	exec := &testutil.MockExecutor{ExecuteFn: func(ctx context.Context, _, _ string) (*domain.ResultSet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc, _ := newTestService(t, sqlInterpreter("SELECT pg_sleep(100)"), exec, Options{ExecuteTimeout: 20 * time.Millisecond})

	snap, err := svc.Submit(context.Background(), "slow", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.ErrorKindExecution, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "timed out")
	assert.Equal(t, 2, exec.CallCount())
}

func TestService_CallIgnoringContextStillTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		<-release
		return &domain.Interpretation{GeneratedQueryText: "SELECT 1"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{InterpretTimeout: 20 * time.Millisecond})

	snap, err := svc.Submit(context.Background(), "hang", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindInterpretation, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "timed out")
}

func TestService_CancelWhileExecutingDiscardsLateResult(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	exec := &testutil.MockExecutor{ExecuteFn: func(_ context.Context, _, _ string) (*domain.ResultSet, error) {
		close(started)
		<-release
		out := regionTotals
		return &out, nil
	}}
	svc, history := newTestService(t, sqlInterpreter("SELECT region, total FROM t"), exec, Options{})

	snap, err := svc.Submit(context.Background(), "totals", "demo")
	require.NoError(t, err)
	id := snap.RequestID

	<-started
	waitForState(t, svc, id, domain.StateExecuting)

	cancelled, err := svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, cancelled.State)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, domain.ErrorKindCancelled, cancelled.Error.Kind)

	status, err := svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, status.State)

	close(release)
	time.Sleep(50 * time.Millisecond)

	status, err = svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, status.State)
	assert.Equal(t, domain.ErrorKindCancelled, status.Error.Kind)

	_, err = svc.Result(context.Background(), id)
	var notReady *domain.NotReadyError
	assert.ErrorAs(t, err, &notReady)

	states := history.States()
	assert.Equal(t, domain.StateFailed, states[len(states)-1])
	assert.NotContains(t, states, domain.StateCompleted)
	assert.Equal(t, 1, exec.CallCount())
}

func TestService_CancelWhileAwaitingClarification(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{Ambiguous: true, Question: "Which region?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "sales", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)

	cancelled, err := svc.Cancel(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindCancelled, cancelled.Error.Kind)
	assert.Nil(t, cancelled.ClarificationQuestion)

	_, err = svc.AnswerClarification(context.Background(), snap.RequestID, "North")
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.StateFailed, stateErr.State)
}

func TestService_ClarificationLimitExceeded(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{Ambiguous: true, Question: "Could you be more specific?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{MaxClarificationRounds: 2})

	snap, err := svc.Submit(context.Background(), "stuff", "demo")
	require.NoError(t, err)
	id := snap.RequestID

	for _, answer := range []string{"things", "other things"} {
		waitForState(t, svc, id, domain.StateAwaitingClarification)
		_, err := svc.AnswerClarification(context.Background(), id, answer)
		require.NoError(t, err)
	}

	failed := waitForState(t, svc, id, domain.StateFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, domain.ErrorKindClarificationLimitExceeded, failed.Error.Kind)
	assert.Equal(t, 2, failed.ClarificationRounds)
	assert.Len(t, interp.Calls(), 3)
}

func TestService_UnlimitedClarificationRounds(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
		if len(req.PriorTurns) < 5 {
			return &domain.Interpretation{Ambiguous: true, Question: "More detail?"}, nil
		}
		return &domain.Interpretation{GeneratedQueryText: "SELECT 1 AS n"}, nil
	}}
	exec := staticExecutor(domain.ResultSet{Columns: []string{"n"}, Rows: [][]interface{}{{1}}, TotalRows: 1})
	svc, _ := newTestService(t, interp, exec, Options{})

	snap, err := svc.Submit(context.Background(), "n", "demo")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)
		_, err := svc.AnswerClarification(context.Background(), snap.RequestID, "more")
		require.NoError(t, err)
	}
	done := waitForState(t, svc, snap.RequestID, domain.StateCompleted)
	assert.Equal(t, 5, done.ClarificationRounds)
}

func TestService_EmptyGeneratedQueryFails(t *testing.T) {
	t.Parallel()

	exec := &testutil.MockExecutor{}
	svc, _ := newTestService(t, sqlInterpreter("   "), exec, Options{})

	snap, err := svc.Submit(context.Background(), "total", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindInterpretation, failed.Error.Kind)
	assert.Equal(t, 0, exec.CallCount())
}

func TestService_ShapeErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	exec := staticExecutor(domain.ResultSet{Columns: []string{"a", "b"}, Rows: [][]interface{}{{1}}})
	svc, _ := newTestService(t, sqlInterpreter("SELECT a, b FROM t"), exec, Options{})

	snap, err := svc.Submit(context.Background(), "a and b", "demo")
	require.NoError(t, err)

	failed := waitForState(t, svc, snap.RequestID, domain.StateFailed)
	assert.Equal(t, domain.ErrorKindShape, failed.Error.Kind)
	assert.Equal(t, 75, failed.Percent)
	assert.Equal(t, 1, exec.CallCount())

	rec, err := svc.Record(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Nil(t, rec.Result)
	require.NotNil(t, rec.GeneratedQueryText)
}

func TestService_TotalRowsNormalised(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, sqlInterpreter("SELECT 1"),
		staticExecutor(domain.ResultSet{Columns: []string{"Region", "Total"}, Rows: [][]interface{}{{"North", 1}, {"South", 2}}}),
		Options{})

	snap, err := svc.Submit(context.Background(), "regions", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateCompleted)

	out, err := svc.Result(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, out.ResultSet.TotalRows)
}

func TestService_PersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	history := &testutil.MockHistoryStore{PersistFn: func(_ context.Context, _ *domain.QueryExecutionRecord) error {
		return errors.New("disk full")
	}}
	svc := NewService(sqlInterpreter("SELECT 1"), staticExecutor(regionTotals), testutil.NewStaticCatalog("demo"), history,
		Options{RetryBackoff: time.Millisecond})
	t.Cleanup(svc.Close)

	snap, err := svc.Submit(context.Background(), "totals", "demo")
	require.NoError(t, err)

	waitForState(t, svc, snap.RequestID, domain.StateCompleted)
	assert.NotEmpty(t, history.Records())
}

func TestService_CloseAbandonsInFlightWork(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	interp := &testutil.MockInterpreter{InterpretFn: func(ctx context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := NewService(interp, &testutil.MockExecutor{}, testutil.NewStaticCatalog("demo"), nil, Options{})

	snap, err := svc.Submit(context.Background(), "anything", "demo")
	require.NoError(t, err)
	<-started

	svc.Close()

	status, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, status.State)
	assert.Equal(t, domain.ErrorKindCancelled, status.Error.Kind)
}

func TestService_WatchSignalsChanges(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		<-release
		return &domain.Interpretation{Ambiguous: true, Question: "Which year?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "sales", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateInterpreting)

	current, changed, err := svc.Watch(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInterpreting, current.State)

	close(release)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel was not closed")
	}

	next, _, err := svc.Watch(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingClarification, next.State)
}

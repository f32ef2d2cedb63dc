package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-ask/internal/domain"
	"duck-ask/internal/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestService_SubmitValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		dataSource string
		wantMsg    string
	}{
		{name: "missing data source", text: "total sales", dataSource: "", wantMsg: "data source is required"},
		{name: "blank data source", text: "total sales", dataSource: "   ", wantMsg: "data source is required"},
		{name: "unknown data source", text: "total sales", dataSource: "nope", wantMsg: `unknown data source "nope"`},
		{name: "empty question", text: " ", dataSource: "demo", wantMsg: "question text is required"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			interp := &testutil.MockInterpreter{}
			svc, history := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

			_, err := svc.Submit(context.Background(), tt.text, tt.dataSource)
			require.Error(t, err)
			var valErr *domain.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Contains(t, valErr.Message, tt.wantMsg)
			assert.Empty(t, interp.Calls())
			assert.Empty(t, history.Records())
			assert.Empty(t, svc.List(context.Background(), 0))
		})
	}
}

func TestService_UnknownRequest(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &testutil.MockInterpreter{}, &testutil.MockExecutor{}, Options{})
	ctx := context.Background()
	var nf *domain.NotFoundError

	_, err := svc.Status(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
	_, err = svc.AnswerClarification(ctx, "missing", "x")
	assert.ErrorAs(t, err, &nf)
	_, err = svc.Result(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
	_, err = svc.SwitchChartKind(ctx, "missing", domain.ChartBar)
	assert.ErrorAs(t, err, &nf)
	_, err = svc.Cancel(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
	_, _, err = svc.Watch(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
}

func TestService_AnswerOutsideAwaitingClarification(t *testing.T) {
	t.Parallel()

	svc, history := newTestService(t, sqlInterpreter("SELECT 1"), staticExecutor(regionTotals), Options{})

	snap, err := svc.Submit(context.Background(), "totals", "demo")
	require.NoError(t, err)
	before := waitForState(t, svc, snap.RequestID, domain.StateCompleted)
	persisted := len(history.Records())

	for _, answer := range []string{"This year", ""} {
		_, err = svc.AnswerClarification(context.Background(), snap.RequestID, answer)
		require.Error(t, err)
		var stateErr *domain.InvalidStateError
		require.ErrorAs(t, err, &stateErr, "state is checked before the answer text")
		assert.Equal(t, domain.StateCompleted, stateErr.State)
	}

	after, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, history.Records(), persisted)
}

func TestService_AnswerWhileInterpreting(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		<-release
		return &domain.Interpretation{Ambiguous: true, Question: "Which?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "sales", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateInterpreting)

	_, err = svc.AnswerClarification(context.Background(), snap.RequestID, "North")
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.StateInterpreting, stateErr.State)

	close(release)
	waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)
}

func TestService_EmptyAnswerKeepsAwaiting(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{Ambiguous: true, Question: "Which time period?", Suggestions: []string{"This month"}}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "total sales", "demo")
	require.NoError(t, err)
	before := waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)

	_, err = svc.AnswerClarification(context.Background(), snap.RequestID, "   ")
	var emptyErr *domain.EmptyAnswerError
	require.ErrorAs(t, err, &emptyErr)

	after, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, after.ClarificationRounds)
	assert.Len(t, interp.Calls(), 1)
}

func TestService_ResultNotReady(t *testing.T) {
	t.Parallel()

	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{Ambiguous: true, Question: "Which?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{})

	snap, err := svc.Submit(context.Background(), "sales", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)

	var notReady *domain.NotReadyError
	_, err = svc.Result(context.Background(), snap.RequestID)
	assert.ErrorAs(t, err, &notReady)
	_, err = svc.SwitchChartKind(context.Background(), snap.RequestID, domain.ChartLine)
	assert.ErrorAs(t, err, &notReady)
}

func TestService_SwitchChartKindKeepsResult(t *testing.T) {
	t.Parallel()

	svc, history := newTestService(t, sqlInterpreter("SELECT region, total FROM t"), staticExecutor(regionTotals), Options{})

	snap, err := svc.Submit(context.Background(), "totals by region", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateCompleted)

	before, err := svc.Result(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChartBar, before.ChartSpec.Kind)
	statusBefore, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)

	for _, kind := range []domain.ChartKind{domain.ChartLine, domain.ChartPie, domain.ChartKPI} {
		spec, err := svc.SwitchChartKind(context.Background(), snap.RequestID, kind)
		require.NoError(t, err)
		if kind == domain.ChartKPI {
			assert.Equal(t, domain.ChartBar, spec.Kind, "multi-row results never become kpi")
		} else {
			assert.Equal(t, kind, spec.Kind)
		}

		after, err := svc.Result(context.Background(), snap.RequestID)
		require.NoError(t, err)
		assert.Equal(t, before.ResultSet, after.ResultSet)
		assert.Equal(t, before.GeneratedQueryText, after.GeneratedQueryText)
		assert.Equal(t, *spec, after.ChartSpec)
	}

	statusAfter, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, statusBefore, statusAfter)

	last := history.Records()[len(history.Records())-1]
	assert.Equal(t, domain.StateCompleted, last.State)
	assert.Equal(t, domain.ChartBar, last.Chart.Kind)

	_, err = svc.SwitchChartKind(context.Background(), snap.RequestID, domain.ChartKind("radar"))
	var valErr *domain.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestService_CancelTerminal(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, sqlInterpreter("SELECT 1"), staticExecutor(regionTotals), Options{})

	snap, err := svc.Submit(context.Background(), "totals", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateCompleted)

	_, err = svc.Cancel(context.Background(), snap.RequestID)
	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.StateCompleted, stateErr.State)

	status, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, status.State)
}

func TestService_ListNewestFirst(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc, _ := newTestService(t, sqlInterpreter("SELECT 1"), staticExecutor(regionTotals), Options{Now: clock.Now})

	var ids []string
	for _, q := range []string{"first", "second", "third"} {
		snap, err := svc.Submit(context.Background(), q, "demo")
		require.NoError(t, err)
		ids = append(ids, snap.RequestID)
		clock.Advance(time.Minute)
	}

	all := svc.List(context.Background(), 0)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].RequestID)
	assert.Equal(t, ids[0], all[2].RequestID)

	limited := svc.List(context.Background(), 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "third", limited[0].RawText)
}

func TestService_SweepEvictsExpiredTerminalRecords(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
		if req.RawText == "ambiguous" {
			return &domain.Interpretation{Ambiguous: true, Question: "Which?"}, nil
		}
		return &domain.Interpretation{GeneratedQueryText: "SELECT 1"}, nil
	}}
	svc, _ := newTestService(t, interp, staticExecutor(regionTotals), Options{Now: clock.Now, Retention: time.Hour})

	done, err := svc.Submit(context.Background(), "done", "demo")
	require.NoError(t, err)
	waitForState(t, svc, done.RequestID, domain.StateCompleted)

	waiting, err := svc.Submit(context.Background(), "ambiguous", "demo")
	require.NoError(t, err)
	waitForState(t, svc, waiting.RequestID, domain.StateAwaitingClarification)

	assert.Equal(t, 0, svc.Sweep(context.Background()), "nothing is old enough yet")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, svc.Sweep(context.Background()))

	_, err = svc.Status(context.Background(), done.RequestID)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	status, err := svc.Status(context.Background(), waiting.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingClarification, status.State)
}

func TestService_SweepDisabledWithoutRetention(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc, _ := newTestService(t, sqlInterpreter("SELECT 1"), staticExecutor(regionTotals), Options{Now: clock.Now})

	snap, err := svc.Submit(context.Background(), "done", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateCompleted)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, svc.Sweep(context.Background()))
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &testutil.MockInterpreter{}, &testutil.MockExecutor{}, Options{})
	_, err := NewSweeper(svc, "every now and then", nil)
	require.Error(t, err)

	sw, err := NewSweeper(svc, "", nil)
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

func TestService_EvictedRecordsAnsweredFromArchive(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	archive := &testutil.MockHistoryStore{}
	exec := &testutil.MockExecutor{ExecuteFn: func(_ context.Context, query, _ string) (*domain.ResultSet, error) {
		if query == "SELECT broken" {
			return nil, domain.ErrExecution("relation does not exist")
		}
		out := regionTotals
		return &out, nil
	}}
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
		if req.RawText == "broken" {
			return &domain.Interpretation{GeneratedQueryText: "SELECT broken"}, nil
		}
		return &domain.Interpretation{GeneratedQueryText: "SELECT region, total FROM sales"}, nil
	}}
	svc := NewService(interp, exec, testutil.NewStaticCatalog("demo"), archive, Options{
		Now: clock.Now, Retention: time.Hour, RetryBackoff: time.Millisecond, Archive: archive,
	})
	t.Cleanup(svc.Close)

	failed, err := svc.Submit(context.Background(), "broken", "demo")
	require.NoError(t, err)
	waitForState(t, svc, failed.RequestID, domain.StateFailed)
	done, err := svc.Submit(context.Background(), "sales by region", "demo")
	require.NoError(t, err)
	waitForState(t, svc, done.RequestID, domain.StateCompleted)

	clock.Advance(2 * time.Hour)
	require.Equal(t, 2, svc.Sweep(context.Background()))
	assert.Empty(t, svc.List(context.Background(), 0))

	status, err := svc.Status(context.Background(), failed.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, domain.ErrorKindExecution, status.Error.Kind)

	_, err = svc.Result(context.Background(), failed.RequestID)
	var notReady *domain.NotReadyError
	assert.ErrorAs(t, err, &notReady)

	_, err = svc.Cancel(context.Background(), failed.RequestID)
	var invalid *domain.InvalidStateError
	assert.ErrorAs(t, err, &invalid)

	out, err := svc.Result(context.Background(), done.RequestID)
	require.NoError(t, err)
	assert.Equal(t, regionTotals.Columns, out.ResultSet.Columns)
	assert.Equal(t, domain.ChartBar, out.ChartSpec.Kind)

	spec, err := svc.SwitchChartKind(context.Background(), done.RequestID, domain.ChartPie)
	require.NoError(t, err)
	assert.Equal(t, domain.ChartPie, spec.Kind)
	stored, err := archive.Get(context.Background(), done.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChartPie, stored.Chart.Kind)
	assert.Equal(t, domain.StateCompleted, stored.State)

	_, err = svc.Status(context.Background(), "missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_IdleClarificationFails(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	interp := &testutil.MockInterpreter{InterpretFn: func(_ context.Context, _ domain.InterpretRequest) (*domain.Interpretation, error) {
		return &domain.Interpretation{Ambiguous: true, Question: "Which time period?"}, nil
	}}
	svc, _ := newTestService(t, interp, &testutil.MockExecutor{}, Options{Now: clock.Now, ClarificationIdle: 30 * time.Minute})

	snap, err := svc.Submit(context.Background(), "total sales", "demo")
	require.NoError(t, err)
	waitForState(t, svc, snap.RequestID, domain.StateAwaitingClarification)

	clock.Advance(10 * time.Minute)
	svc.Sweep(context.Background())
	status, err := svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingClarification, status.State)

	clock.Advance(30 * time.Minute)
	svc.Sweep(context.Background())
	status, err = svc.Status(context.Background(), snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, domain.ErrorKindCancelled, status.Error.Kind)
	assert.Contains(t, status.Error.Message, "no clarification answer")
}

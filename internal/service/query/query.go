// Package query drives natural-language questions through interpretation,
// clarification, execution and chart selection.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"duck-ask/internal/chart"
	"duck-ask/internal/domain"
	"duck-ask/internal/observability"
)

const (
	defaultInterpretTimeout = 15 * time.Second
	defaultExecuteTimeout   = 60 * time.Second
	defaultRetryBackoff     = 200 * time.Millisecond
	maxCallAttempts         = 2
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	InterpretTimeout time.Duration
	ExecuteTimeout   time.Duration
	// MaxClarificationRounds fails a record with ClarificationLimitExceeded
	// once this many answers were given and the question is still ambiguous.
	// Zero means unlimited.
	MaxClarificationRounds int
	RetryBackoff           time.Duration
	Retention              time.Duration
	// ClarificationIdle fails records left unanswered in
	// AwaitingClarification for this long with kind Cancelled. Zero keeps
	// them until answered or cancelled.
	ClarificationIdle time.Duration

	// Archive answers reads for records no longer held in memory.
	Archive domain.HistoryReader

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Service is the single owner of every in-flight QueryExecutionRecord.
// Each record is advanced by at most one task at a time; distinct records
// run in parallel.
type Service struct {
	interpreter domain.Interpreter
	executor    domain.Executor
	sources     domain.DataSourceCatalog
	history     domain.HistoryStore

	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	records sync.Map // request id -> *entry

	baseCtx context.Context
	stop    context.CancelFunc
	tasks   sync.WaitGroup
}

// entry guards one record. mu serialises writers; snap is published after
// every change so Status never takes the lock.
type entry struct {
	mu       sync.Mutex
	rec      domain.QueryExecutionRecord
	progress Progress
	clar     *Clarifications
	cancel   context.CancelFunc
	changed  chan struct{}

	snap atomic.Pointer[domain.StatusSnapshot]
}

// NewService creates a Service. history may be nil when nothing should be
// retained beyond memory.
func NewService(interp domain.Interpreter, exec domain.Executor, sources domain.DataSourceCatalog, history domain.HistoryStore, opts Options) *Service {
	if opts.InterpretTimeout <= 0 {
		opts.InterpretTimeout = defaultInterpretTimeout
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = defaultExecuteTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		interpreter: interp,
		executor:    exec,
		sources:     sources,
		history:     history,
		opts:        opts,
		logger:      opts.Logger.With("component", "query-service"),
		metrics:     opts.Metrics,
		now:         opts.Now,
		baseCtx:     ctx,
		stop:        stop,
	}
}

// Close abandons in-flight work and waits for pipeline tasks to return.
func (s *Service) Close() {
	s.stop()
	s.tasks.Wait()
}

// Submit accepts a question and starts interpreting it in the background.
func (s *Service) Submit(ctx context.Context, rawText, dataSourceRef string) (*domain.StatusSnapshot, error) {
	rawText = strings.TrimSpace(rawText)
	dataSourceRef = strings.TrimSpace(dataSourceRef)
	if dataSourceRef == "" {
		return nil, domain.ErrValidation("data source is required")
	}
	if !s.sources.Exists(dataSourceRef) {
		return nil, domain.ErrValidation("unknown data source %q", dataSourceRef)
	}
	if rawText == "" {
		return nil, domain.ErrValidation("question text is required")
	}

	now := s.now().UTC()
	e := &entry{
		rec: domain.QueryExecutionRecord{
			Request: domain.QueryRequest{
				ID:            domain.NewID(),
				RawText:       rawText,
				DataSourceRef: dataSourceRef,
				CreatedAt:     now,
			},
			State:     domain.StateSubmitted,
			StartedAt: now,
		},
		clar:    NewClarifications(s.now),
		changed: make(chan struct{}),
	}

	e.mu.Lock()
	s.records.Store(e.rec.RequestID(), e)
	s.publish(ctx, e)
	s.launch(e)
	snap := *e.snap.Load()
	e.mu.Unlock()

	s.metrics.Submitted()
	s.logger.InfoContext(ctx, "question submitted", "request_id", snap.RequestID, "data_source", dataSourceRef)
	return &snap, nil
}

// AnswerClarification records an answer to the pending question and
// restarts interpretation with every prior turn as context.
func (s *Service) AnswerClarification(ctx context.Context, requestID, answerText string) (*domain.StatusSnapshot, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		rec, aerr := s.archived(ctx, requestID, err)
		if aerr != nil {
			return nil, aerr
		}
		return nil, domain.ErrInvalidState(rec.State, "request %s is %s, not awaiting clarification", requestID, rec.State)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != domain.StateAwaitingClarification {
		return nil, domain.ErrInvalidState(e.rec.State, "request %s is %s, not awaiting clarification", requestID, e.rec.State)
	}
	if _, err := e.clar.RecordAnswer(answerText); err != nil {
		return nil, err
	}

	e.rec.Clarifications = e.clar.History()
	e.progress.restart()
	e.rec.State = domain.StateInterpreting
	s.publish(ctx, e)
	s.launch(e)
	s.metrics.ClarificationAnswered()

	snap := *e.snap.Load()
	return &snap, nil
}

// Status returns the latest snapshot without taking any lock. Records
// evicted from memory are answered from the archive.
func (s *Service) Status(ctx context.Context, requestID string) (*domain.StatusSnapshot, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		rec, aerr := s.archived(ctx, requestID, err)
		if aerr != nil {
			return nil, aerr
		}
		snap := buildSnapshot(rec, nil)
		return &snap, nil
	}
	snap := *e.snap.Load()
	return &snap, nil
}

// Watch returns the current snapshot together with a channel that is
// closed on the next change.
func (s *Service) Watch(ctx context.Context, requestID string) (*domain.StatusSnapshot, <-chan struct{}, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		rec, aerr := s.archived(ctx, requestID, err)
		if aerr != nil {
			return nil, nil, aerr
		}
		// Archived records never change again.
		snap := buildSnapshot(rec, nil)
		done := make(chan struct{})
		close(done)
		return &snap, done, nil
	}
	e.mu.Lock()
	snap := *e.snap.Load()
	ch := e.changed
	e.mu.Unlock()
	return &snap, ch, nil
}

// Result returns the generated query, its rows and the current chart.
func (s *Service) Result(ctx context.Context, requestID string) (*domain.QueryOutcome, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		rec, aerr := s.archived(ctx, requestID, err)
		if aerr != nil {
			return nil, aerr
		}
		return outcome(rec)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return outcome(&e.rec)
}

func outcome(rec *domain.QueryExecutionRecord) (*domain.QueryOutcome, error) {
	if rec.State != domain.StateCompleted || rec.Result == nil || rec.Chart == nil {
		return nil, domain.ErrNotReady("request %s has no result yet (state %s)", rec.RequestID(), rec.State)
	}
	return &domain.QueryOutcome{
		RequestID:          rec.RequestID(),
		GeneratedQueryText: deref(rec.GeneratedQueryText),
		ResultSet:          *rec.Result,
		ChartSpec:          *rec.Chart,
	}, nil
}

// SwitchChartKind reclassifies the stored result for a different chart
// kind. The result set and pipeline state are left untouched.
func (s *Service) SwitchChartKind(ctx context.Context, requestID string, kind domain.ChartKind) (*domain.ChartSpec, error) {
	if _, err := domain.ParseChartKind(string(kind)); err != nil {
		return nil, err
	}
	e, err := s.lookup(requestID)
	if err != nil {
		return s.switchArchivedChart(ctx, requestID, kind, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Result == nil {
		return nil, domain.ErrNotReady("request %s has no result yet (state %s)", requestID, e.rec.State)
	}
	spec, err := chart.Classify(*e.rec.Result, kind)
	if err != nil {
		return nil, err
	}
	e.rec.Chart = &spec
	e.rec.UpdatedAt = s.now().UTC()
	e.rec.Revision++
	s.persist(ctx, e)
	return &spec, nil
}

// switchArchivedChart reclassifies an evicted record and writes the new
// chart back to the history store.
func (s *Service) switchArchivedChart(ctx context.Context, requestID string, kind domain.ChartKind, missErr error) (*domain.ChartSpec, error) {
	rec, err := s.archived(ctx, requestID, missErr)
	if err != nil {
		return nil, err
	}
	if rec.Result == nil {
		return nil, domain.ErrNotReady("request %s has no result (state %s)", requestID, rec.State)
	}
	spec, err := chart.Classify(*rec.Result, kind)
	if err != nil {
		return nil, err
	}
	rec.Chart = &spec
	rec.UpdatedAt = s.now().UTC()
	rec.Revision++
	if s.history != nil {
		if err := s.history.Persist(context.WithoutCancel(ctx), rec); err != nil {
			s.metrics.PersistFailed()
			s.logger.WarnContext(ctx, "persist history failed", "request_id", requestID, "error", err)
		}
	}
	return &spec, nil
}

// Cancel fails a non-terminal record with kind Cancelled. An external call
// already in flight is abandoned and its late result discarded.
func (s *Service) Cancel(ctx context.Context, requestID string) (*domain.StatusSnapshot, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		rec, aerr := s.archived(ctx, requestID, err)
		if aerr != nil {
			return nil, aerr
		}
		return nil, domain.ErrInvalidState(rec.State, "request %s is already %s", requestID, rec.State)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State.Terminal() {
		return nil, domain.ErrInvalidState(e.rec.State, "request %s is already %s", requestID, e.rec.State)
	}
	if e.cancel != nil {
		e.cancel()
	}
	s.fail(ctx, e, domain.NewPipelineError(domain.ErrorKindCancelled, "cancelled by user"))

	snap := *e.snap.Load()
	return &snap, nil
}

// Record returns a copy of the full in-memory record.
func (s *Service) Record(ctx context.Context, requestID string) (*domain.QueryExecutionRecord, error) {
	e, err := s.lookup(requestID)
	if err != nil {
		return s.archived(ctx, requestID, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := copyRecord(&e.rec)
	return &rec, nil
}

// List returns snapshots of the records held in memory, newest first.
// limit <= 0 returns all of them.
func (s *Service) List(_ context.Context, limit int) []domain.StatusSnapshot {
	var out []domain.StatusSnapshot
	s.records.Range(func(_, v any) bool {
		out = append(out, *v.(*entry).snap.Load())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RequestID > out[j].RequestID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Service) lookup(requestID string) (*entry, error) {
	v, ok := s.records.Load(requestID)
	if !ok {
		return nil, domain.ErrNotFound("request %q not found", requestID)
	}
	return v.(*entry), nil
}

// archived loads an evicted record from the archive. Only terminal records
// are served; missErr is returned when there is nothing to serve.
func (s *Service) archived(ctx context.Context, requestID string, missErr error) (*domain.QueryExecutionRecord, error) {
	if s.opts.Archive == nil {
		return nil, missErr
	}
	rec, err := s.opts.Archive.Get(ctx, requestID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, missErr
		}
		return nil, fmt.Errorf("load archived request %s: %w", requestID, err)
	}
	if !rec.State.Terminal() {
		return nil, missErr
	}
	return rec, nil
}

// launch starts the pipeline task for e. Caller holds e.mu.
func (s *Service) launch(e *entry) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	e.cancel = cancel
	req := domain.InterpretRequest{
		RawText:       e.rec.Request.RawText,
		DataSourceRef: e.rec.Request.DataSourceRef,
		PriorTurns:    e.clar.History(),
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer cancel()
		s.runPipeline(ctx, e, req)
	}()
}

// publish stamps the record, refreshes the snapshot, wakes watchers and
// hands a copy to the history store. Caller holds e.mu.
func (s *Service) publish(ctx context.Context, e *entry) {
	e.rec.Stage, e.rec.Percent = e.progress.Snapshot()
	e.rec.UpdatedAt = s.now().UTC()
	e.rec.Revision++

	snap := buildSnapshot(&e.rec, e.clar)
	e.snap.Store(&snap)
	close(e.changed)
	e.changed = make(chan struct{})

	s.logger.DebugContext(ctx, "state transition",
		"request_id", e.rec.RequestID(), "state", e.rec.State, "stage", e.rec.Stage, "percent", e.rec.Percent)
	s.persist(ctx, e)
}

// persist is fire-and-forget; failures never reach the pipeline.
func (s *Service) persist(ctx context.Context, e *entry) {
	if s.history == nil {
		return
	}
	rec := copyRecord(&e.rec)
	if err := s.history.Persist(context.WithoutCancel(ctx), &rec); err != nil {
		s.metrics.PersistFailed()
		s.logger.WarnContext(ctx, "persist history failed", "request_id", rec.RequestID(), "error", err)
	}
}

// fail moves e to Failed. Caller holds e.mu.
func (s *Service) fail(ctx context.Context, e *entry, perr *domain.PipelineError) {
	now := s.now().UTC()
	e.rec.State = domain.StateFailed
	e.rec.Error = perr
	e.rec.Result = nil
	e.rec.Chart = nil
	e.rec.CompletedAt = &now
	s.publish(ctx, e)
	s.metrics.Finished(string(domain.StateFailed), string(perr.Kind))
	s.logger.InfoContext(ctx, "request failed",
		"request_id", e.rec.RequestID(), "kind", perr.Kind, "stage", e.rec.Stage, "error", perr.Message)
}

func buildSnapshot(rec *domain.QueryExecutionRecord, clar *Clarifications) domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		RequestID:           rec.RequestID(),
		DataSourceRef:       rec.Request.DataSourceRef,
		RawText:             rec.Request.RawText,
		State:               rec.State,
		Stage:               rec.Stage,
		Percent:             rec.Percent,
		ClarificationRounds: answeredTurns(rec.Clarifications),
		StartedAt:           rec.StartedAt,
	}
	if clar != nil {
		snap.ClarificationRounds = clar.Answered()
	}
	if clar != nil && rec.State == domain.StateAwaitingClarification {
		if turn, ok := clar.Pending(); ok {
			q := turn.QuestionText
			snap.ClarificationQuestion = &q
			snap.Suggestions = turn.Suggestions
		}
	}
	if rec.Error != nil {
		perr := *rec.Error
		snap.Error = &perr
	}
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		snap.CompletedAt = &at
	}
	return snap
}

// copyRecord returns a copy that shares no mutable state with rec. Result
// rows are immutable once stored and are shared.
func copyRecord(rec *domain.QueryExecutionRecord) domain.QueryExecutionRecord {
	out := *rec
	if rec.Clarifications != nil {
		out.Clarifications = make([]domain.ClarificationTurn, len(rec.Clarifications))
		for i, t := range rec.Clarifications {
			out.Clarifications[i] = copyTurn(t)
		}
	}
	if rec.GeneratedQueryText != nil {
		q := *rec.GeneratedQueryText
		out.GeneratedQueryText = &q
	}
	if rec.Result != nil {
		rs := *rec.Result
		out.Result = &rs
	}
	if rec.Chart != nil {
		c := *rec.Chart
		out.Chart = &c
	}
	if rec.Error != nil {
		perr := *rec.Error
		out.Error = &perr
	}
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func answeredTurns(turns []domain.ClarificationTurn) int {
	n := 0
	for _, t := range turns {
		if t.AnswerText != nil {
			n++
		}
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

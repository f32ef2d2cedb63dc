// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"duck-ask/internal/domain"
)

// === Interpreter Mock ===

// MockInterpreter implements domain.Interpreter for testing.
type MockInterpreter struct {
	InterpretFn func(ctx context.Context, req domain.InterpretRequest) (*domain.Interpretation, error)

	mu    sync.Mutex
	calls []domain.InterpretRequest
}

// Interpret implements the interface method for testing.
func (m *MockInterpreter) Interpret(ctx context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.InterpretFn != nil {
		return m.InterpretFn(ctx, req)
	}
	panic("unexpected call to MockInterpreter.Interpret")
}

// Calls returns a copy of every request received so far.
func (m *MockInterpreter) Calls() []domain.InterpretRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.InterpretRequest(nil), m.calls...)
}

// === Executor Mock ===

// MockExecutor implements domain.Executor for testing.
type MockExecutor struct {
	ExecuteFn func(ctx context.Context, queryText, dataSourceRef string) (*domain.ResultSet, error)

	mu    sync.Mutex
	count int
}

// Execute implements the interface method for testing.
func (m *MockExecutor) Execute(ctx context.Context, queryText, dataSourceRef string) (*domain.ResultSet, error) {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, queryText, dataSourceRef)
	}
	panic("unexpected call to MockExecutor.Execute")
}

// CallCount returns the number of Execute calls so far.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// === History Store Mock ===

// MockHistoryStore implements domain.HistoryStore for testing. Records are
// collected even when PersistFn fails.
type MockHistoryStore struct {
	PersistFn func(ctx context.Context, rec *domain.QueryExecutionRecord) error

	mu      sync.Mutex
	records []domain.QueryExecutionRecord
}

// Persist implements the interface method for testing.
func (m *MockHistoryStore) Persist(ctx context.Context, rec *domain.QueryExecutionRecord) error {
	m.mu.Lock()
	m.records = append(m.records, *rec)
	m.mu.Unlock()
	if m.PersistFn != nil {
		return m.PersistFn(ctx, rec)
	}
	return nil
}

// Get implements domain.HistoryReader over the highest revision persisted
// for requestID.
func (m *MockHistoryStore) Get(_ context.Context, requestID string) (*domain.QueryExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *domain.QueryExecutionRecord
	for i := range m.records {
		rec := m.records[i]
		if rec.Request.ID == requestID && (found == nil || rec.Revision > found.Revision) {
			found = &rec
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound("request %q not found", requestID)
	}
	return found, nil
}

// Records returns every persisted record in call order.
func (m *MockHistoryStore) Records() []domain.QueryExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.QueryExecutionRecord(nil), m.records...)
}

// States returns the state of every persisted record in call order.
func (m *MockHistoryStore) States() []domain.ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExecutionState, len(m.records))
	for i, r := range m.records {
		out[i] = r.State
	}
	return out
}

// === Data Source Catalog Mock ===

// StaticCatalog implements domain.DataSourceCatalog over a fixed list.
type StaticCatalog struct {
	Sources []domain.DataSource
}

// NewStaticCatalog creates a catalog with one source per name.
func NewStaticCatalog(names ...string) *StaticCatalog {
	c := &StaticCatalog{}
	for _, n := range names {
		c.Sources = append(c.Sources, domain.DataSource{Name: n, Driver: "duckdb", Description: n + " test source"})
	}
	return c
}

// Exists implements the interface method for testing.
func (c *StaticCatalog) Exists(name string) bool {
	for _, s := range c.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Describe implements the interface method for testing.
func (c *StaticCatalog) Describe(name string) (string, error) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s.Description, nil
		}
	}
	return "", domain.ErrNotFound("data source %q not found", name)
}

// List implements the interface method for testing.
func (c *StaticCatalog) List() []domain.DataSource {
	return append([]domain.DataSource(nil), c.Sources...)
}

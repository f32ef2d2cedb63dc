package domain

import "context"

// InterpretRequest is the input to one interpretation call.
type InterpretRequest struct {
	RawText       string
	DataSourceRef string
	PriorTurns    []ClarificationTurn
}

// Interpretation is the outcome of one interpretation call. When Ambiguous
// is true, Question (and optionally Suggestions) are set; otherwise
// GeneratedQueryText is set.
type Interpretation struct {
	Ambiguous          bool
	Question           string
	Suggestions        []string
	GeneratedQueryText string
}

// Interpreter converts natural language plus clarification context into
// either a clarifying question or generated query text.
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) (*Interpretation, error)
}

// Executor runs generated query text against a data source. Failures are
// reported as *ExecutionError or *TimeoutError.
type Executor interface {
	Execute(ctx context.Context, generatedQueryText, dataSourceRef string) (*ResultSet, error)
}

// DataSource describes one queryable data source.
type DataSource struct {
	Name        string `json:"name" yaml:"name"`
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"-" yaml:"dsn"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// DataSourceCatalog resolves data source references.
type DataSourceCatalog interface {
	Exists(name string) bool
	Describe(name string) (string, error)
	List() []DataSource
}

// HistoryStore retains execution records after (and during) processing.
type HistoryStore interface {
	Persist(ctx context.Context, rec *QueryExecutionRecord) error
}

// HistoryReader looks up a retained record. A missing record is a
// *NotFoundError.
type HistoryReader interface {
	Get(ctx context.Context, requestID string) (*QueryExecutionRecord, error)
}

// HistoryRepository is the durable, listable history store.
type HistoryRepository interface {
	HistoryStore
	HistoryReader
	List(ctx context.Context, filter HistoryFilter) ([]QueryExecutionRecord, int64, error)
}

package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers "duckdb"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"

	"duck-ask/internal/domain"
)

// DefaultMaxRows caps the rows kept per result set.
const DefaultMaxRows = 10000

// Compile-time checks.
var (
	_ domain.Executor          = (*Registry)(nil)
	_ domain.DataSourceCatalog = (*Registry)(nil)
)

// Registry owns one lazily opened *sql.DB per configured data source and
// runs generated queries against them.
type Registry struct {
	sources map[string]*source
	order   []string
	maxRows int
	logger  *slog.Logger
}

type source struct {
	cfg SourceConfig

	mu sync.Mutex
	db *sql.DB
}

// NewRegistry validates cfg and returns a registry. Nothing is opened until
// the first query against a source.
func NewRegistry(cfg *Config, maxRows int, logger *slog.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sources: make(map[string]*source, len(cfg.DataSources)),
		maxRows: maxRows,
		logger:  logger.With("component", "executor"),
	}
	for _, sc := range cfg.DataSources {
		r.sources[sc.Name] = &source{cfg: sc}
		r.order = append(r.order, sc.Name)
	}
	return r, nil
}

// Exists reports whether name is a configured source.
func (r *Registry) Exists(name string) bool {
	_, ok := r.sources[name]
	return ok
}

// Describe returns the schema description passed to interpreters.
func (r *Registry) Describe(name string) (string, error) {
	src, ok := r.sources[name]
	if !ok {
		return "", domain.ErrNotFound("data source %q not found", name)
	}
	return src.cfg.Description, nil
}

// List returns the configured sources in file order.
func (r *Registry) List() []domain.DataSource {
	out := make([]domain.DataSource, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name].cfg.DataSource)
	}
	return out
}

// Execute runs queryText against the named source.
func (r *Registry) Execute(ctx context.Context, queryText, dataSourceRef string) (*domain.ResultSet, error) {
	src, ok := r.sources[dataSourceRef]
	if !ok {
		return nil, domain.ErrExecution("unknown data source %q", dataSourceRef)
	}
	db, err := src.open(ctx)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("open data source %q: %w", dataSourceRef, err))
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, queryText)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close() //nolint:errcheck

	rs, err := scanRows(rows, r.maxRows)
	if err != nil {
		return nil, classify(ctx, err)
	}
	r.logger.DebugContext(ctx, "query executed",
		"data_source", dataSourceRef, "rows", len(rs.Rows), "total_rows", rs.TotalRows, "duration", time.Since(start))
	return rs, nil
}

// Close closes every opened connection pool.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		src := r.sources[name]
		src.mu.Lock()
		if src.db != nil {
			if err := src.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
			src.db = nil
		}
		src.mu.Unlock()
	}
	return errors.Join(errs...)
}

// open returns the pool, opening it and running setup on first use. A failed
// open is not cached so the next query tries again.
func (s *source) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	driverName, err := sqlDriverName(s.cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, s.cfg.DSN)
	if err != nil {
		return nil, err
	}
	if s.cfg.Driver == DriverSQLite {
		// In-memory SQLite databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	for i, stmt := range s.cfg.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setup statement %d: %w", i+1, err)
		}
	}
	s.db = db
	return db, nil
}

// classify maps a driver failure onto the executor error contract.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout("query timed out: %v", err)
	}
	return domain.ErrExecution("%v", err)
}

// scanRows reads every row, keeping at most maxRows of them while counting
// the total.
func scanRows(rows *sql.Rows, maxRows int) (*domain.ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	resultRows := make([][]interface{}, 0)
	total := 0
	for rows.Next() {
		total++
		if len(resultRows) >= maxRows {
			continue
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]interface{}, len(vals))
		for i, v := range vals {
			row[i] = normalizeValue(v)
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.ResultSet{
		Columns:   cols,
		Rows:      resultRows,
		TotalRows: total,
	}, nil
}

// normalizeValue converts driver types into JSON friendly values.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, int64, float64, time.Time:
		return t
	case []byte:
		return string(t)
	case *big.Int:
		if t.IsInt64() {
			return t.Int64()
		}
		return t.String()
	case interface{ Float64() float64 }:
		// DuckDB DECIMAL
		return t.Float64()
	case fmt.Stringer:
		return t.String()
	}
	return v
}

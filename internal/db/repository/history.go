package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"duck-ask/internal/domain"
)

var _ domain.HistoryRepository = (*HistoryRepo)(nil)

// HistoryRepo persists execution records in SQLite. Writes go through the
// single-connection pool, reads through the read pool.
type HistoryRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewHistoryRepo creates a HistoryRepo. readDB may be nil, in which case
// reads share writeDB.
func NewHistoryRepo(writeDB, readDB *sql.DB) *HistoryRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &HistoryRepo{writeDB: writeDB, readDB: readDB}
}

const historyColumns = `request_id, raw_text, data_source_ref, state, stage, percent, clarifications,
	generated_query_text, result, chart, error_kind, error_message,
	created_at, started_at, completed_at, updated_at, revision`

// Persist upserts rec. A write carrying an older revision than the stored
// row is ignored, so out-of-order background writes never roll a record
// back.
func (r *HistoryRepo) Persist(ctx context.Context, rec *domain.QueryExecutionRecord) error {
	if rec == nil || rec.Request.ID == "" {
		return domain.ErrValidation("record has no request id")
	}

	clarifications := rec.Clarifications
	if clarifications == nil {
		clarifications = []domain.ClarificationTurn{}
	}
	clarJSON, err := json.Marshal(clarifications)
	if err != nil {
		return fmt.Errorf("marshal clarifications: %w", err)
	}
	resultJSON, err := encodeJSON(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	chartJSON, err := encodeJSON(rec.Chart)
	if err != nil {
		return fmt.Errorf("marshal chart: %w", err)
	}
	var errKind, errMessage sql.NullString
	if rec.Error != nil {
		errKind = sql.NullString{String: string(rec.Error.Kind), Valid: true}
		errMessage = sql.NullString{String: rec.Error.Message, Valid: true}
	}

	_, err = r.writeDB.ExecContext(ctx, `
		INSERT INTO query_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			state = excluded.state,
			stage = excluded.stage,
			percent = excluded.percent,
			clarifications = excluded.clarifications,
			generated_query_text = excluded.generated_query_text,
			result = excluded.result,
			chart = excluded.chart,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at,
			revision = excluded.revision
		WHERE excluded.revision > query_history.revision
	`,
		rec.Request.ID, rec.Request.RawText, rec.Request.DataSourceRef,
		string(rec.State), string(rec.Stage), rec.Percent, string(clarJSON),
		nullString(rec.GeneratedQueryText), resultJSON, chartJSON, errKind, errMessage,
		formatTime(rec.Request.CreatedAt), formatTime(rec.StartedAt), formatTimePtr(rec.CompletedAt),
		formatTime(rec.UpdatedAt), rec.Revision,
	)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

// Get returns the stored record for requestID.
func (r *HistoryRepo) Get(ctx context.Context, requestID string) (*domain.QueryExecutionRecord, error) {
	row := r.readDB.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM query_history WHERE request_id = ?`, requestID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("request %q not found", requestID)
		}
		return nil, err
	}
	return rec, nil
}

// List returns records matching filter, newest first, with the total
// count of matching rows.
func (r *HistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.QueryExecutionRecord, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != nil {
		where = append(where, "state = ?")
		args = append(args, string(*filter.State))
	}
	if filter.DataSourceRef != nil {
		where = append(where, "data_source_ref = ?")
		args = append(args, *filter.DataSourceRef)
	}
	if filter.From != nil {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "started_at < ?")
		args = append(args, formatTime(*filter.To))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_history`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM query_history`+clause+
			` ORDER BY started_at DESC, request_id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.QueryExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapDBError(err)
	}
	return out, total, nil
}

// Delete removes the record for requestID.
func (r *HistoryRepo) Delete(ctx context.Context, requestID string) error {
	res, err := r.writeDB.ExecContext(ctx, `DELETE FROM query_history WHERE request_id = ?`, requestID)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("request %q not found", requestID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.QueryExecutionRecord, error) {
	var (
		rec                              domain.QueryExecutionRecord
		state, stage, clarJSON           string
		generated, resultJSON, chartJSON sql.NullString
		errKind, errMessage, completedAt sql.NullString
		createdAt, startedAt, updatedAt  string
	)
	if err := row.Scan(
		&rec.Request.ID, &rec.Request.RawText, &rec.Request.DataSourceRef,
		&state, &stage, &rec.Percent, &clarJSON,
		&generated, &resultJSON, &chartJSON, &errKind, &errMessage,
		&createdAt, &startedAt, &completedAt, &updatedAt, &rec.Revision,
	); err != nil {
		return nil, err
	}

	rec.State = domain.ExecutionState(state)
	rec.Stage = domain.Stage(stage)
	rec.GeneratedQueryText = stringPtr(generated)
	if errKind.Valid {
		rec.Error = &domain.PipelineError{Kind: domain.ErrorKind(errKind.String), Message: errMessage.String}
	}

	var err error
	if err = json.Unmarshal([]byte(clarJSON), &rec.Clarifications); err != nil {
		return nil, fmt.Errorf("decode clarifications of %s: %w", rec.Request.ID, err)
	}
	if len(rec.Clarifications) == 0 {
		rec.Clarifications = nil
	}
	if rec.Result, err = decodeJSON[domain.ResultSet](resultJSON); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", rec.Request.ID, err)
	}
	if rec.Chart, err = decodeJSON[domain.ChartSpec](chartJSON); err != nil {
		return nil, fmt.Errorf("decode chart of %s: %w", rec.Request.ID, err)
	}
	if rec.Request.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

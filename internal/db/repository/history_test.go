package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-ask/internal/db"
	"duck-ask/internal/domain"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *HistoryRepo {
	t.Helper()
	store := db.OpenTestStore(t)
	return NewHistoryRepo(store.Write, store.Read)
}

func record(id, source string, started time.Time) domain.QueryExecutionRecord {
	return domain.QueryExecutionRecord{
		Request:   domain.QueryRequest{ID: id, RawText: "sales by region", DataSourceRef: source, CreatedAt: started},
		State:     domain.StateSubmitted,
		Stage:     domain.StageParse,
		StartedAt: started,
		UpdatedAt: started,
		Revision:  1,
	}
}

func ptr(rec domain.QueryExecutionRecord) *domain.QueryExecutionRecord { return &rec }

func completed(rec domain.QueryExecutionRecord) domain.QueryExecutionRecord {
	sqlText := "SELECT region, SUM(amount) AS total FROM sales GROUP BY region"
	done := rec.StartedAt.Add(2 * time.Second)
	x, y := "region", "total"
	answer := "This year"
	rec.State = domain.StateCompleted
	rec.Stage = domain.StageFormatResults
	rec.Percent = 100
	rec.GeneratedQueryText = &sqlText
	rec.Clarifications = []domain.ClarificationTurn{{SequenceNo: 1, QuestionText: "Which time period?", AnswerText: &answer, AnsweredAt: &done}}
	rec.Result = &domain.ResultSet{
		Columns:   []string{"region", "total"},
		Rows:      [][]interface{}{{"East", 340}, {"North", 120.5}},
		TotalRows: 2,
	}
	rec.Chart = &domain.ChartSpec{Kind: domain.ChartBar, XField: &x, YField: &y}
	rec.CompletedAt = &done
	rec.UpdatedAt = done
	rec.Revision = 7
	return rec
}

func TestHistoryRepo_RoundTrip(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	rec := completed(record("r1", "demo", epoch))
	require.NoError(t, repo.Persist(ctx, &rec))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Request, got.Request)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, domain.StageFormatResults, got.Stage)
	assert.Equal(t, 100, got.Percent)
	assert.Equal(t, *rec.GeneratedQueryText, *got.GeneratedQueryText)
	require.Len(t, got.Clarifications, 1)
	assert.Equal(t, "This year", *got.Clarifications[0].AnswerText)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"region", "total"}, got.Result.Columns)
	assert.Equal(t, json.Number("340"), got.Result.Rows[0][1])
	assert.Equal(t, json.Number("120.5"), got.Result.Rows[1][1])
	assert.Equal(t, domain.ChartBar, got.Chart.Kind)
	assert.Equal(t, "region", *got.Chart.XField)
	assert.True(t, rec.CompletedAt.Equal(*got.CompletedAt))
	assert.Equal(t, int64(7), got.Revision)
	assert.Nil(t, got.Error)
}

func TestHistoryRepo_FailedRecord(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("r1", "demo", epoch)
	rec.State = domain.StateFailed
	rec.Error = domain.NewPipelineError(domain.ErrorKindTimeout, "execute timed out after 1s")
	rec.CompletedAt = &epoch
	require.NoError(t, repo.Persist(ctx, &rec))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrorKindTimeout, got.Error.Kind)
	assert.Equal(t, "execute timed out after 1s", got.Error.Message)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Chart)
	assert.Nil(t, got.GeneratedQueryText)
	assert.Nil(t, got.Clarifications)
}

func TestHistoryRepo_StaleRevisionIgnored(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("r1", "demo", epoch)
	done := completed(rec)
	require.NoError(t, repo.Persist(ctx, &done))

	rec.State = domain.StateExecuting
	rec.Revision = 5
	require.NoError(t, repo.Persist(ctx, &rec))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.Equal(t, int64(7), got.Revision)

	done.Revision = 8
	done.Chart = &domain.ChartSpec{Kind: domain.ChartPie}
	require.NoError(t, repo.Persist(ctx, &done))
	got, err = repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChartPie, got.Chart.Kind)
}

func TestHistoryRepo_GetMissing(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Message, "missing")
}

func TestHistoryRepo_PersistRequiresID(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)

	err := repo.Persist(context.Background(), &domain.QueryExecutionRecord{})
	var valErr *domain.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestHistoryRepo_List(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		source := "demo"
		if i%2 == 1 {
			source = "warehouse"
		}
		rec := record(fmt.Sprintf("r%d", i), source, epoch.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			rec = completed(rec)
		}
		require.NoError(t, repo.Persist(ctx, &rec))
	}

	all, total, err := repo.List(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, all, 5)
	assert.Equal(t, "r4", all[0].Request.ID)
	assert.Equal(t, "r0", all[4].Request.ID)

	source := "warehouse"
	bySource, total, err := repo.List(ctx, domain.HistoryFilter{DataSourceRef: &source})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "r3", bySource[0].Request.ID)

	state := domain.StateCompleted
	byState, total, err := repo.List(ctx, domain.HistoryFilter{State: &state})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "r4", byState[0].Request.ID)

	from, to := epoch.Add(time.Minute), epoch.Add(3*time.Minute)
	window, total, err := repo.List(ctx, domain.HistoryFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "r2", window[0].Request.ID)
	assert.Equal(t, "r1", window[1].Request.ID)

	page, total, err := repo.List(ctx, domain.HistoryFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: domain.EncodePageToken(2)}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].Request.ID)
	assert.Equal(t, "r1", page[1].Request.ID)
}

func TestHistoryRepo_Delete(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Persist(ctx, ptr(record("r1", "demo", epoch))))
	require.NoError(t, repo.Delete(ctx, "r1"))

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, repo.Delete(ctx, "r1"), &notFound)
	_, err := repo.Get(ctx, "r1")
	assert.ErrorAs(t, err, &notFound)
}

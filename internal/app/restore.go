package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"duck-ask/internal/domain"
)

var unfinishedStates = []domain.ExecutionState{
	domain.StateSubmitted,
	domain.StateInterpreting,
	domain.StateAwaitingClarification,
	domain.StateQueryGenerated,
	domain.StateExecuting,
}

// historyRW is the slice of the history repository startup needs.
type historyRW interface {
	domain.HistoryStore
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.QueryExecutionRecord, int64, error)
}

// failInterrupted marks history rows that were still in flight when the
// previous process stopped. In-memory records do not survive a restart, so
// without this they would stay non-terminal forever.
func failInterrupted(ctx context.Context, history historyRW, now time.Time, logger *slog.Logger) (int, error) {
	failed := 0
	for _, state := range unfinishedStates {
		state := state
		for {
			recs, _, err := history.List(ctx, domain.HistoryFilter{
				State: &state,
				Page:  domain.PageRequest{MaxResults: domain.MaxMaxResults},
			})
			if err != nil {
				return failed, fmt.Errorf("list %s records: %w", state, err)
			}
			if len(recs) == 0 {
				break
			}
			for i := range recs {
				rec := &recs[i]
				completed := now
				rec.State = domain.StateFailed
				rec.Error = domain.NewPipelineError(domain.ErrorKindCancelled, "interrupted by server restart while %s", state)
				rec.CompletedAt = &completed
				rec.UpdatedAt = now
				rec.Revision++
				if err := history.Persist(ctx, rec); err != nil {
					return failed, fmt.Errorf("fail interrupted record %s: %w", rec.RequestID(), err)
				}
				failed++
			}
		}
	}
	if failed > 0 {
		logger.Info("failed interrupted history records", "count", failed)
	}
	return failed, nil
}

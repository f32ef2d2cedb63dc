package domain

import "time"

// HistoryFilter holds filter parameters for listing persisted records.
type HistoryFilter struct {
	State         *ExecutionState
	DataSourceRef *string
	From          *time.Time
	To            *time.Time
	Page          PageRequest
}

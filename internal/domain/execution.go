package domain

import "time"

// ExecutionState is the lifecycle state of a QueryExecutionRecord.
type ExecutionState string

// Execution lifecycle states.
const (
	StateSubmitted             ExecutionState = "Submitted"
	StateInterpreting          ExecutionState = "Interpreting"
	StateAwaitingClarification ExecutionState = "AwaitingClarification"
	StateQueryGenerated        ExecutionState = "QueryGenerated"
	StateExecuting             ExecutionState = "Executing"
	StateCompleted             ExecutionState = "Completed"
	StateFailed                ExecutionState = "Failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseExecutionState validates a state name.
func ParseExecutionState(v string) (ExecutionState, error) {
	switch s := ExecutionState(v); s {
	case StateSubmitted, StateInterpreting, StateAwaitingClarification,
		StateQueryGenerated, StateExecuting, StateCompleted, StateFailed:
		return s, nil
	}
	return "", ErrValidation("unknown state %q", v)
}

// Stage is one of the four fixed pipeline phases tracked for progress reporting.
type Stage string

// Pipeline stages in order.
const (
	StageParse         Stage = "Parse"
	StageGenerateQuery Stage = "GenerateQuery"
	StageExecute       Stage = "Execute"
	StageFormatResults Stage = "FormatResults"
)

// Stages lists the pipeline stages in completion order.
var Stages = []Stage{StageParse, StageGenerateQuery, StageExecute, StageFormatResults}

// Percent returns the progress percentage reached once the stage completes.
func (s Stage) Percent() int {
	for i, st := range Stages {
		if st == s {
			return (i + 1) * 100 / len(Stages)
		}
	}
	return 0
}

// QueryExecutionRecord tracks one QueryRequest through the pipeline.
// Result is set if and only if State is Completed; Error is set if and
// only if State is Failed.
type QueryExecutionRecord struct {
	Request            QueryRequest        `json:"request"`
	State              ExecutionState      `json:"state"`
	Stage              Stage               `json:"stage"`
	Percent            int                 `json:"percent"`
	Clarifications     []ClarificationTurn `json:"clarifications,omitempty"`
	GeneratedQueryText *string             `json:"generated_query_text,omitempty"`
	Result             *ResultSet          `json:"result,omitempty"`
	Chart              *ChartSpec          `json:"chart,omitempty"`
	Error              *PipelineError      `json:"error,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at"`
	// Revision increases on every change so stores can drop stale writes.
	Revision int64 `json:"revision"`
}

// RequestID returns the id of the owning request.
func (r *QueryExecutionRecord) RequestID() string { return r.Request.ID }

// StatusSnapshot is the read-only view returned by status polls.
type StatusSnapshot struct {
	RequestID             string         `json:"request_id"`
	DataSourceRef         string         `json:"data_source_ref"`
	RawText               string         `json:"raw_text"`
	State                 ExecutionState `json:"state"`
	Stage                 Stage          `json:"stage"`
	Percent               int            `json:"percent"`
	ClarificationQuestion *string        `json:"clarification_question,omitempty"`
	Suggestions           []string       `json:"suggestions,omitempty"`
	ClarificationRounds   int            `json:"clarification_rounds"`
	Error                 *PipelineError `json:"error,omitempty"`
	StartedAt             time.Time      `json:"started_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
}

// QueryOutcome is the payload returned once a record has completed.
type QueryOutcome struct {
	RequestID          string    `json:"request_id"`
	GeneratedQueryText string    `json:"generated_query_text"`
	ResultSet          ResultSet `json:"result_set"`
	ChartSpec          ChartSpec `json:"chart_spec"`
}

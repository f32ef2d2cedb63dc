package domain

import "time"

// QueryRequest is one natural-language question against a data source.
// It is immutable once created.
type QueryRequest struct {
	ID            string    `json:"id"`
	RawText       string    `json:"raw_text"`
	DataSourceRef string    `json:"data_source_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

// ClarificationTurn is one question/answer exchange used to resolve ambiguity.
// SequenceNo is monotonic per request, starting at 1.
type ClarificationTurn struct {
	SequenceNo   int        `json:"sequence_no"`
	QuestionText string     `json:"question_text"`
	Suggestions  []string   `json:"suggestions,omitempty"`
	AnswerText   *string    `json:"answer_text,omitempty"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
}

// Answered reports whether the turn has received an answer.
func (t ClarificationTurn) Answered() bool { return t.AnswerText != nil }

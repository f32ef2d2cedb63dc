package query

import (
	"strings"
	"time"

	"duck-ask/internal/domain"
)

// Clarifications holds the ordered question/answer turns for one request.
// It does not cap the number of rounds; the Service enforces any limit.
type Clarifications struct {
	turns []domain.ClarificationTurn
	now   func() time.Time
}

// NewClarifications creates an empty dialogue. A nil clock means time.Now.
func NewClarifications(now func() time.Time) *Clarifications {
	if now == nil {
		now = time.Now
	}
	return &Clarifications{now: now}
}

// RecordQuestion appends an unanswered turn. Suggestions are trimmed, blank
// entries dropped, and duplicates removed keeping the first occurrence.
func (c *Clarifications) RecordQuestion(questionText string, suggestions []string) (domain.ClarificationTurn, error) {
	questionText = strings.TrimSpace(questionText)
	if questionText == "" {
		return domain.ClarificationTurn{}, domain.ErrValidation("clarification question is required")
	}
	if _, ok := c.Pending(); ok {
		return domain.ClarificationTurn{}, domain.ErrInvalidState(domain.StateAwaitingClarification,
			"clarification %d is still unanswered", len(c.turns))
	}

	turn := domain.ClarificationTurn{
		SequenceNo:   len(c.turns) + 1,
		QuestionText: questionText,
		Suggestions:  dedupeSuggestions(suggestions),
	}
	c.turns = append(c.turns, turn)
	return copyTurn(turn), nil
}

// RecordAnswer answers the pending turn. An answer that trims to empty
// fails with EmptyAnswerError and leaves the dialogue unchanged.
func (c *Clarifications) RecordAnswer(answerText string) (domain.ClarificationTurn, error) {
	answer := strings.TrimSpace(answerText)
	if answer == "" {
		return domain.ClarificationTurn{}, domain.ErrEmptyAnswer("clarification answer must not be empty")
	}
	if _, ok := c.Pending(); !ok {
		return domain.ClarificationTurn{}, domain.ErrInvalidState("", "no clarification question is pending")
	}

	at := c.now().UTC()
	last := &c.turns[len(c.turns)-1]
	last.AnswerText = &answer
	last.AnsweredAt = &at
	return copyTurn(*last), nil
}

// Pending returns the unanswered turn, if any.
func (c *Clarifications) Pending() (domain.ClarificationTurn, bool) {
	if len(c.turns) == 0 {
		return domain.ClarificationTurn{}, false
	}
	last := c.turns[len(c.turns)-1]
	if last.Answered() {
		return domain.ClarificationTurn{}, false
	}
	return copyTurn(last), true
}

// Answered returns the number of completed rounds.
func (c *Clarifications) Answered() int {
	n := 0
	for _, t := range c.turns {
		if t.Answered() {
			n++
		}
	}
	return n
}

// History returns a copy of every turn in chronological order.
func (c *Clarifications) History() []domain.ClarificationTurn {
	if len(c.turns) == 0 {
		return nil
	}
	out := make([]domain.ClarificationTurn, len(c.turns))
	for i, t := range c.turns {
		out[i] = copyTurn(t)
	}
	return out
}

func dedupeSuggestions(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyTurn(t domain.ClarificationTurn) domain.ClarificationTurn {
	out := t
	if t.Suggestions != nil {
		out.Suggestions = append([]string(nil), t.Suggestions...)
	}
	if t.AnswerText != nil {
		a := *t.AnswerText
		out.AnswerText = &a
	}
	if t.AnsweredAt != nil {
		at := *t.AnsweredAt
		out.AnsweredAt = &at
	}
	return out
}

package query

import (
	"fmt"

	"duck-ask/internal/domain"
)

// Progress tracks which pipeline stages a record has completed. Only the
// Service advances it; callers see it through Snapshot.
type Progress struct {
	completed int // number of stages in domain.Stages already done
}

// Snapshot returns the last completed stage and its percentage. Before any
// stage completes it reports Parse at 0%.
func (p *Progress) Snapshot() (domain.Stage, int) {
	if p.completed == 0 {
		return domain.StageParse, 0
	}
	st := domain.Stages[p.completed-1]
	return st, st.Percent()
}

// advance marks stage complete. Completing an already completed stage is a
// no-op; completing a stage whose predecessor is pending is an error.
func (p *Progress) advance(stage domain.Stage) error {
	idx := stageIndex(stage)
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}
	switch {
	case idx < p.completed:
		return nil
	case idx == p.completed:
		p.completed++
		return nil
	default:
		return fmt.Errorf("stage %s cannot complete before %s", stage, domain.Stages[p.completed])
	}
}

// restart rewinds to a freshly parsed question, discarding everything a
// previous interpretation produced.
func (p *Progress) restart() {
	p.completed = 1
}

func stageIndex(stage domain.Stage) int {
	for i, st := range domain.Stages {
		if st == stage {
			return i
		}
	}
	return -1
}

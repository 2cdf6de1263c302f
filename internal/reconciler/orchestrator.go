package reconciler

import (
	"sync"
	"time"
)

// Pipeline stages, in execution order.
const (
	StageParse     = "parse"
	StageFilter    = "filter"
	StageMatch     = "match"
	StageScore     = "score"
	StageSummarize = "summarize"
)

var allStages = []string{StageParse, StageFilter, StageMatch, StageScore, StageSummarize}

// Progress is a snapshot of a running reconciliation.
type Progress struct {
	CurrentStep        string        `json:"current_step"`
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressCallback receives a copy of the progress after each stage.
type ProgressCallback func(Progress)

type progressTracker struct {
	mu        sync.Mutex
	current   Progress
	callbacks []ProgressCallback
}

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

func (pt *progressTracker) addCallback(cb ProgressCallback) {
	if cb == nil {
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.callbacks = append(pt.callbacks, cb)
}

func (pt *progressTracker) start(totalSteps int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.current = Progress{TotalSteps: totalSteps, StartTime: time.Now()}
}

// complete marks step done. Steps skipped by a run (the filter stage when
// no date range is given) are still reported, so a finished run always
// ends at 100%.
func (pt *progressTracker) complete(step string, elapsed time.Duration) {
	pt.mu.Lock()
	p := &pt.current
	p.CurrentStep = step
	p.CompletedSteps++
	if p.CompletedSteps > p.TotalSteps {
		p.TotalSteps = p.CompletedSteps
	}
	p.ElapsedTime = elapsed
	p.PercentComplete = float64(p.CompletedSteps) / float64(p.TotalSteps) * 100

	p.EstimatedRemaining = 0
	if p.CompletedSteps < p.TotalSteps {
		avg := elapsed / time.Duration(p.CompletedSteps)
		p.EstimatedRemaining = avg * time.Duration(p.TotalSteps-p.CompletedSteps)
	}

	snapshot := *p
	callbacks := pt.callbacks
	pt.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
}

// GetProgress returns the latest progress snapshot.
func (rs *ReconciliationService) GetProgress() Progress {
	rs.progress.mu.Lock()
	defer rs.progress.mu.Unlock()
	return rs.progress.current
}

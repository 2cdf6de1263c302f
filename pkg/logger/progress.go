package logger

import (
	"sync"
	"time"
)

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// StageTimer logs the start and end of each pipeline stage of a run and
// keeps the timings for the run report. Stages may run concurrently.
type StageTimer struct {
	logger  Logger
	started time.Time

	mu      sync.Mutex
	timings []StageTiming
}

// NewStageTimer creates a timer for one run. A nil logger uses the global one.
func NewStageTimer(operation string, logger Logger) *StageTimer {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &StageTimer{
		logger:  logger.WithComponent("stages").WithField("operation", operation),
		started: time.Now(),
	}
}

// Stage starts a stage and returns the function that ends it. The returned
// function accepts the stage error, if any.
func (s *StageTimer) Stage(name string) func(err error) {
	start := time.Now()
	s.logger.WithField("stage", name).Debug("Stage started")

	return func(err error) {
		d := time.Since(start)
		timing := StageTiming{Stage: name, Duration: d}
		entry := s.logger.WithFields(Fields{"stage": name, "duration": d.String()})
		if err != nil {
			timing.Err = err.Error()
			entry.WithError(err).Warn("Stage finished with error")
		} else {
			entry.Info("Stage finished")
		}

		s.mu.Lock()
		s.timings = append(s.timings, timing)
		s.mu.Unlock()
	}
}

// Time runs fn as a named stage.
func (s *StageTimer) Time(name string, fn func() error) error {
	done := s.Stage(name)
	err := fn()
	done(err)
	return err
}

// Timings returns a copy of the finished stage timings in completion order.
func (s *StageTimer) Timings() []StageTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageTiming, len(s.timings))
	copy(out, s.timings)
	return out
}

// Elapsed returns the time since the timer was created.
func (s *StageTimer) Elapsed() time.Duration {
	return time.Since(s.started)
}

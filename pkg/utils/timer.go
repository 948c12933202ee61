package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stage is one timed pipeline stage.
type Stage struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	Err      error
	done     bool
}

// StageTimer records the wall time of sequential pipeline stages
// (traverse, orchestrate, merge, finalize, save ...) in start order.
type StageTimer struct {
	mu     sync.Mutex
	name   string
	clock  Clock
	start  time.Time
	stages []*Stage
	index  map[string]*Stage
	logger Logger
}

// TimerOption configures a StageTimer.
type TimerOption func(*StageTimer)

// WithClock sets a custom clock.
func WithClock(clock Clock) TimerOption {
	return func(t *StageTimer) {
		t.clock = clock
	}
}

// WithLogger makes the timer log every completed stage at debug level and
// the summary at info level.
func WithLogger(logger Logger) TimerOption {
	return func(t *StageTimer) {
		t.logger = logger
	}
}

// NewStageTimer creates a StageTimer.
func NewStageTimer(name string, opts ...TimerOption) *StageTimer {
	t := &StageTimer{
		name:  name,
		clock: NewRealClock(),
		index: make(map[string]*Stage),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.clock.Now()
	return t
}

// Begin starts a stage and returns the function that ends it. Ending a
// stage twice keeps the first duration.
func (t *StageTimer) Begin(name string) func() time.Duration {
	t.mu.Lock()
	stage := &Stage{Name: name, Start: t.clock.Now()}
	t.stages = append(t.stages, stage)
	t.index[name] = stage
	t.mu.Unlock()

	return func() time.Duration {
		return t.end(stage, nil)
	}
}

// Run times fn as a stage and records its error.
func (t *StageTimer) Run(name string, fn func() error) error {
	t.mu.Lock()
	stage := &Stage{Name: name, Start: t.clock.Now()}
	t.stages = append(t.stages, stage)
	t.index[name] = stage
	t.mu.Unlock()

	err := fn()
	t.end(stage, err)
	return err
}

func (t *StageTimer) end(stage *Stage, err error) time.Duration {
	t.mu.Lock()
	if stage.done {
		d := stage.Duration
		t.mu.Unlock()
		return d
	}
	stage.Duration = t.clock.Since(stage.Start)
	stage.Err = err
	stage.done = true
	d := stage.Duration
	logger := t.logger
	t.mu.Unlock()

	if logger != nil {
		if err != nil {
			logger.Debug("stage %s failed after %v: %v", stage.Name, d, err)
		} else {
			logger.Debug("stage %s finished in %v", stage.Name, d)
		}
	}
	return d
}

// Duration returns the recorded duration of a stage, or zero.
func (t *StageTimer) Duration(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.index[name]; ok {
		return s.Duration
	}
	return 0
}

// Total returns the time since the timer was created.
func (t *StageTimer) Total() time.Duration {
	return t.clock.Since(t.start)
}

// Stages returns copies of all stages in start order.
func (t *StageTimer) Stages() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stage, 0, len(t.stages))
	for _, s := range t.stages {
		out = append(out, *s)
	}
	return out
}

// Summary renders a multi-line timing table.
func (t *StageTimer) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s timing ===\n", t.name)
	for i, s := range t.Stages() {
		status := ""
		if s.Err != nil {
			status = " (failed)"
		}
		fmt.Fprintf(&sb, "%d. %s: %v%s\n", i+1, s.Name, s.Duration, status)
	}
	fmt.Fprintf(&sb, "total: %v\n", t.Total())
	return sb.String()
}

// LogSummary writes the summary through the configured logger, one line per stage.
func (t *StageTimer) LogSummary() {
	if t.logger == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(t.Summary()), "\n") {
		t.logger.Info("%s", line)
	}
}

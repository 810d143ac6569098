package observability

import (
	"sync/atomic"
	"time"
)

// DefaultDeadlineBudget is the latency budget for one synthesis call.
const DefaultDeadlineBudget = 4 * time.Second

// DeadlineFlag records whether any call ever ran past its budget. It is
// only ever set, never cleared.
type DeadlineFlag struct {
	hit atomic.Bool
}

func (f *DeadlineFlag) Set() { f.hit.Store(true) }

func (f *DeadlineFlag) Hit() bool { return f.hit.Load() }

// DeadlineMonitor measures one operation against a budget. It never
// cancels the operation; Stop only reports.
type DeadlineMonitor struct {
	start      time.Time
	budget     time.Duration
	flag       *DeadlineFlag
	onExceeded func(took time.Duration)
}

// StartDeadline starts timing. Callers defer Stop so the check runs on
// every exit path.
func StartDeadline(budget time.Duration, flag *DeadlineFlag, onExceeded func(took time.Duration)) *DeadlineMonitor {
	return &DeadlineMonitor{
		start:      time.Now(),
		budget:     budget,
		flag:       flag,
		onExceeded: onExceeded,
	}
}

// Stop returns the elapsed time and whether the budget was exceeded.
func (m *DeadlineMonitor) Stop() (time.Duration, bool) {
	took := time.Since(m.start)
	if took <= m.budget {
		return took, false
	}
	if m.flag != nil {
		m.flag.Set()
	}
	if m.onExceeded != nil {
		m.onExceeded(took)
	}
	return took, true
}

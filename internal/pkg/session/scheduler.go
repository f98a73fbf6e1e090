package session

import (
	"sync"
	"time"
)

// RefreshDelay returns how long to wait before refreshing a token that
// expires at exp: margin ahead of expiry, never less than floor. Computed on
// whole seconds.
func RefreshDelay(exp, now time.Time, margin, floor time.Duration) time.Duration {
	secs := exp.Unix() - now.Unix() - int64(margin/time.Second)
	if minSecs := int64(floor / time.Second); secs < minSecs {
		secs = minSecs
	}
	return time.Duration(secs) * time.Second
}

// Scheduler holds at most one pending task. Scheduling always cancels the
// previous task first; a task fires at most once.
type Scheduler struct {
	mu       sync.Mutex
	clock    Clock
	timer    Timer
	gen      uint64
	onCancel func(hadPending bool)
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock}
}

// OnCancel installs a hook run on every cancellation, including the implicit
// one at the start of Schedule. The hook must not call back into the Scheduler.
func (s *Scheduler) OnCancel(hook func(hadPending bool)) {
	s.mu.Lock()
	s.onCancel = hook
	s.mu.Unlock()
}

// Schedule arms task to run after d, replacing any pending task.
func (s *Scheduler) Schedule(d time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.gen++
	gen := s.gen

	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			// cancelled or superseded after the timer already fired
			s.mu.Unlock()
			return
		}
		s.gen++
		s.timer = nil
		s.mu.Unlock()

		task()
	})
}

// Cancel drops the pending task, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

// Pending reports whether a task is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) cancelLocked() {
	hadPending := s.timer != nil
	if hadPending {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if s.onCancel != nil {
		s.onCancel(hadPending)
	}
}

package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance instead of a clock.
type Manual struct {
	mu      sync.Mutex
	elapsed time.Duration
	nextID  int
	jobs    map[int]*manualJob
}

type manualJob struct {
	interval time.Duration
	next     time.Duration
	fn       func()
}

// NewManual creates an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{jobs: make(map[int]*manualJob)}
}

func (m *Manual) Every(interval time.Duration, fn func()) (Handle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.jobs[id] = &manualJob{interval: interval, next: m.elapsed + interval, fn: fn}
	return &manualHandle{m: m, id: id}, nil
}

// Advance moves time forward by d, running every job that comes due in
// order of its due time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.elapsed + d
	for {
		job := m.earliestLocked()
		if job == nil || job.next > target {
			break
		}
		m.elapsed = job.next
		job.next += job.interval
		fn := job.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.elapsed = target
	m.mu.Unlock()
}

// Jobs returns the number of registered jobs.
func (m *Manual) Jobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// earliestLocked returns the job due first; ties go to the older job.
func (m *Manual) earliestLocked() *manualJob {
	var (
		bestID int
		best   *manualJob
	)
	for id, job := range m.jobs {
		if best == nil || job.next < best.next || (job.next == best.next && id < bestID) {
			bestID, best = id, job
		}
	}
	return best
}

type manualHandle struct {
	m  *Manual
	id int
}

func (h *manualHandle) Cancel() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	delete(h.m.jobs, h.id)
}

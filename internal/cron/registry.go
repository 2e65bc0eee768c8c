package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds jobs with their minimum spacing. A zero spacing means the
// job runs on every cycle.
type Registry struct {
	mu        sync.Mutex
	schedules []*schedule
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register rejects nil jobs and duplicate names.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.job.Name() == job.Name() {
			return fmt.Errorf("job %q already registered", job.Name())
		}
	}
	if every < 0 {
		every = 0
	}
	r.schedules = append(r.schedules, &schedule{job: job, every: every})
	return nil
}

// Jobs returns every job in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.schedules))
	for _, s := range r.schedules {
		jobs = append(jobs, s.job)
	}
	return jobs
}

// Due returns the jobs whose spacing has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, s := range r.schedules {
		if s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.every {
			due = append(due, s.job)
		}
	}
	return due
}

// MarkRan records a successful run.
func (r *Registry) MarkRan(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.job.Name() == name {
			s.lastRun = at
			return
		}
	}
}

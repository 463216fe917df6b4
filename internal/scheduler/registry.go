package scheduler

import (
	"sync"

	"github.com/mixelka/mailsync/internal/metrics"
)

// registry holds the active job of each account. At most one job per account
// exists across both pools.
type registry struct {
	mu   sync.Mutex
	jobs map[int64]*Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[int64]*Job)}
}

// tryAcquire registers job unless its account already has one
func (r *registry) tryAcquire(job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.jobs[job.AccountID]; busy {
		return false
	}
	r.jobs[job.AccountID] = job
	metrics.AccountsInFlight.Set(float64(len(r.jobs)))
	return true
}

// release removes job; a newer job for the same account is left alone
func (r *registry) release(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobs[job.AccountID] == job {
		delete(r.jobs, job.AccountID)
	}
	metrics.AccountsInFlight.Set(float64(len(r.jobs)))
}

func (r *registry) get(accountID int64) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[accountID]
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

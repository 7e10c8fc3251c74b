package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"seopulse/internal/types"
)

// MemoryStore is a process-local Store for development and tests. It keeps
// every job, including completed ones, until the process exits.
type MemoryStore struct {
	mu    sync.Mutex
	clock types.Clock
	jobs  map[string]*types.Job
	seq   map[string]int64
	next  int64
}

// NewMemoryStore creates an empty MemoryStore. clock may be nil.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		clock: clock,
		jobs:  make(map[string]*types.Job),
		seq:   make(map[string]int64),
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error) {
	if err := types.ValidateJobPayload(kind, payload); err != nil {
		return types.EnqueueResult{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to encode job payload", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.DedupeKey != "" {
		for _, j := range m.jobs {
			if j.DedupeKey == opts.DedupeKey && j.State.Pending() {
				return types.EnqueueResult{JobID: j.ID, Deduplicated: true}, nil
			}
		}
	}

	now := m.clock.Now()
	backoff, maxAttempts := resolveOptions(opts)
	state := types.JobWaiting
	if opts.Delay > 0 {
		state = types.JobDelayed
	}
	job := &types.Job{
		ID:          "job_" + uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		State:       state,
		DedupeKey:   opts.DedupeKey,
		ScheduledAt: now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.next++
	m.jobs[job.ID] = job
	m.seq[job.ID] = m.next
	return types.EnqueueResult{JobID: job.ID}, nil
}

func (m *MemoryStore) Lease(_ context.Context, kind types.JobKind, lease time.Duration) (*types.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var best *types.Job
	for _, j := range m.jobs {
		if j.Kind != kind || !m.due(j, now) {
			continue
		}
		if best == nil || j.ScheduledAt.Before(best.ScheduledAt) ||
			(j.ScheduledAt.Equal(best.ScheduledAt) && m.seq[j.ID] < m.seq[best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, false, nil
	}

	expiry := now.Add(lease)
	best.State = types.JobActive
	best.Attempts++
	best.LeaseExpiry = &expiry
	best.UpdatedAt = now
	return cloneJob(best), true, nil
}

// due reports whether j can be leased now. Expired leases on jobs that have
// used their last attempt are dead-lettered in place.
func (m *MemoryStore) due(j *types.Job, now time.Time) bool {
	switch j.State {
	case types.JobWaiting, types.JobDelayed:
		return !j.ScheduledAt.After(now)
	case types.JobActive:
		if j.LeaseExpiry == nil || j.LeaseExpiry.After(now) {
			return false
		}
		if j.Attempts >= j.MaxAttempts {
			j.State = types.JobFailed
			j.LeaseExpiry = nil
			j.LastError = "lease expired on final attempt"
			j.UpdatedAt = now
			return false
		}
		return true
	}
	return false
}

// leased returns the job if attempt is its current, unexpired lease.
func (m *MemoryStore) leased(jobID string, attempt int, now time.Time) (*types.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.State != types.JobActive || j.Attempts != attempt ||
		j.LeaseExpiry == nil || !j.LeaseExpiry.After(now) {
		return nil, notLeased(jobID)
	}
	return j, nil
}

func (m *MemoryStore) Ack(_ context.Context, jobID string, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	j, err := m.leased(jobID, attempt, now)
	if err != nil {
		return err
	}
	j.State = types.JobCompleted
	j.LeaseExpiry = nil
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, jobID string, attempt int, jobErr error) (types.FailOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	j, err := m.leased(jobID, attempt, now)
	if err != nil {
		return "", err
	}
	if jobErr != nil {
		j.LastError = jobErr.Error()
	}
	j.LeaseExpiry = nil
	j.UpdatedAt = now

	if deadLetter(j.Attempts, j.MaxAttempts, jobErr) {
		j.State = types.JobFailed
		return types.FailDeadLettered, nil
	}
	j.State = types.JobDelayed
	j.ScheduledAt = now.Add(j.Backoff.NextDelay(j.Attempts))
	return types.FailRetryScheduled, nil
}

func (m *MemoryStore) Counts(_ context.Context, kind types.JobKind) (types.JobCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c types.JobCounts
	for _, j := range m.jobs {
		if j.Kind != kind {
			continue
		}
		switch j.State {
		case types.JobWaiting:
			c.Waiting++
		case types.JobActive:
			c.Active++
		case types.JobDelayed:
			c.Delayed++
		case types.JobCompleted:
			c.Completed++
		case types.JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *MemoryStore) DeadLetters(_ context.Context, kind types.JobKind, limit int) ([]*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Job
	for _, j := range m.jobs {
		if j.Kind == kind && j.State == types.JobFailed {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a snapshot of a job. Used by tests and jobctl against the
// memory backend.
func (m *MemoryStore) Get(jobID string) (*types.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(j), true
}

func cloneJob(j *types.Job) *types.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.LeaseExpiry != nil {
		e := *j.LeaseExpiry
		c.LeaseExpiry = &e
	}
	return &c
}

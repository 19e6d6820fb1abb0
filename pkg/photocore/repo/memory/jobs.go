package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/photoclub/photocore/pkg/photocore"
)

// JobStore operations. Each takes the repository mutex on its own; job
// operations do not participate in InTx and must not be called from
// inside a transaction function.

// Enqueue inserts a job, or refreshes the pending singleton for the same
// (topic, key): the payload is replaced and the run time only ever moves
// forward.
func (r *Repository) Enqueue(ctx context.Context, params photocore.EnqueueJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, job := range r.state.jobs {
		if job.Topic == params.Topic && job.Key == params.Key && job.ClaimedAt == nil {
			job.Payload = append([]byte(nil), params.Payload...)
			if params.RunAt.After(job.RunAt) {
				job.RunAt = params.RunAt
			}
			job.UpdatedAt = now
			return nil
		}
	}

	job := &photocore.Job{
		ID:        uuid.New(),
		Topic:     params.Topic,
		Key:       params.Key,
		Payload:   append([]byte(nil), params.Payload...),
		RunAt:     params.RunAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.state.jobs[job.ID] = job
	return nil
}

// PendingJob returns the unclaimed job for (topic, key).
func (r *Repository) PendingJob(ctx context.Context, topic, key string) (*photocore.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.state.jobs {
		if job.Topic == topic && job.Key == key && job.ClaimedAt == nil {
			jobCopy := *job
			return &jobCopy, nil
		}
	}
	return nil, photocore.ErrJobNotFound
}

// ClaimDue claims the oldest due unclaimed job on the topic.
func (r *Repository) ClaimDue(ctx context.Context, topic string, now time.Time) (*photocore.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*photocore.Job
	for _, job := range r.state.jobs {
		if job.Topic == topic && job.ClaimedAt == nil && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	if len(due) == 0 {
		return nil, photocore.ErrNoJobDue
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].RunAt.Before(due[j].RunAt)
		}
		return due[i].ID.String() < due[j].ID.String()
	})

	job := due[0]
	claimed := now
	job.ClaimedAt = &claimed
	job.UpdatedAt = now

	jobCopy := *job
	return &jobCopy, nil
}

// Complete removes a claimed job.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.state.jobs[id]; !exists {
		return photocore.ErrJobNotFound
	}
	delete(r.state.jobs, id)
	return nil
}

// Release unclaims a job and reschedules it for runAt.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, runAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.state.jobs[id]
	if !exists {
		return photocore.ErrJobNotFound
	}
	job.ClaimedAt = nil
	job.RunAt = runAt
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Watermark returns the topic's dispatch high-water mark.
func (r *Repository) Watermark(ctx context.Context, topic string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.watermarks[topic], nil
}

// SetWatermark records the topic's dispatch high-water mark.
func (r *Repository) SetWatermark(ctx context.Context, topic string, mark time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.watermarks[topic] = mark
	return nil
}

// PendingJobs returns the unclaimed jobs on a topic ordered by run time.
// Test helper.
func (r *Repository) PendingJobs(topic string) []*photocore.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*photocore.Job
	for _, job := range r.state.jobs {
		if job.Topic == topic && job.ClaimedAt == nil {
			jobCopy := *job
			jobs = append(jobs, &jobCopy)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
	return jobs
}

package photocore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultQuietPeriod is the debounce window for comment notifications.
const DefaultQuietPeriod = 5 * time.Minute

// CommentBatchHandler receives the coalesced comment set once a quiet
// period has elapsed. Delivery is at-least-once: the handler may see a
// batch more than once and must deduplicate by comment id.
type CommentBatchHandler func(ctx context.Context, comments []*Comment) error

// Scheduler debounces comment events into a single downstream side
// effect. Jobs are singletons per event id in the persistent store; a
// repeat enqueue before the job runs pushes its earliest run time
// forward, so the batch never fires sooner than the quiet period after
// the latest enqueue.
type Scheduler struct {
	repo         Repository
	jobs         JobStore
	handler      CommentBatchHandler
	topic        string
	quiet        time.Duration
	retryDelay   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithQuietPeriod overrides the debounce window
func WithQuietPeriod(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.quiet = d
	}
}

// WithSchedulerLogger sets the structured logger
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerClock overrides the time source, mainly for tests
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSchedulerPollInterval sets how often the worker polls for due jobs
func WithSchedulerPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.pollInterval = d
	}
}

// NewScheduler creates a comment notification scheduler.
func NewScheduler(repo Repository, jobs JobStore, handler CommentBatchHandler, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		jobs:         jobs,
		handler:      handler,
		topic:        TopicComments,
		quiet:        DefaultQuietPeriod,
		retryDelay:   30 * time.Second,
		pollInterval: time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// EnqueueComment inserts or refreshes the debounce job for the comment.
func (s *Scheduler) EnqueueComment(ctx context.Context, commentID uuid.UUID) error {
	return s.jobs.Enqueue(ctx, EnqueueJobParams{
		Topic: s.topic,
		Key:   commentID.String(),
		RunAt: s.now().UTC().Add(s.quiet),
	})
}

// Run polls for due jobs until the context is cancelled. Dispatch errors
// are logged; the job is released for retry with the high-water mark
// untouched, so the next poll retries the same batch.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				processed, err := s.ProcessOne(ctx)
				if err != nil {
					s.logger.Error("comment batch dispatch failed", "error", err)
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims one due job and, if the quiet period has truly
// elapsed relative to the last comment (not just the job's nominal run
// time), dispatches the coalesced batch and advances the high-water
// mark. It reports whether a job was claimed.
func (s *Scheduler) ProcessOne(ctx context.Context) (bool, error) {
	now := s.now().UTC()
	job, err := s.jobs.ClaimDue(ctx, s.topic, now)
	if err != nil {
		if errors.Is(err, ErrNoJobDue) {
			return false, nil
		}
		return false, err
	}

	mark, err := s.jobs.Watermark(ctx, s.topic)
	if err != nil {
		return true, s.release(ctx, job, now.Add(s.retryDelay), err)
	}

	comments, err := s.repo.ListCommentsSince(ctx, mark)
	if err != nil {
		return true, s.release(ctx, job, now.Add(s.retryDelay), err)
	}
	if len(comments) == 0 {
		return true, s.jobs.Complete(ctx, job.ID)
	}

	// Events may have arrived after the job was claimed; the window is
	// measured from the newest one.
	last := comments[len(comments)-1].CreatedAt
	if elapsed := now.Sub(last); elapsed < s.quiet {
		if err := s.jobs.Release(ctx, job.ID, last.Add(s.quiet)); err != nil {
			return true, err
		}
		return true, nil
	}

	batch := dedupComments(comments)
	if err := s.handler(ctx, batch); err != nil {
		dispatchErr := &JobDispatchError{Topic: s.topic, JobID: job.ID, Err: err}
		return true, s.release(ctx, job, now.Add(s.retryDelay), dispatchErr)
	}

	if err := s.jobs.SetWatermark(ctx, s.topic, last); err != nil {
		return true, s.release(ctx, job, now.Add(s.retryDelay), err)
	}
	return true, s.jobs.Complete(ctx, job.ID)
}

func (s *Scheduler) release(ctx context.Context, job *Job, runAt time.Time, cause error) error {
	if err := s.jobs.Release(ctx, job.ID, runAt); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// dedupComments returns the batch ordered by creation time with
// duplicate ids removed, giving handlers a deterministic input.
func dedupComments(comments []*Comment) []*Comment {
	seen := make(map[uuid.UUID]struct{}, len(comments))
	batch := make([]*Comment, 0, len(comments))
	for _, c := range comments {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		batch = append(batch, c)
	}
	return batch
}

package photocore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrUserNotFound indicates a user was not found
	ErrUserNotFound = errors.New("user not found")

	// ErrPhotoNotFound indicates a photo was not found
	ErrPhotoNotFound = errors.New("photo not found")

	// ErrRatingNotFound indicates a rating row was not found
	ErrRatingNotFound = errors.New("rating not found")

	// ErrFeatureNotFound indicates a curation slot was not found
	ErrFeatureNotFound = errors.New("feature not found")

	// ErrCommentNotFound indicates a comment was not found
	ErrCommentNotFound = errors.New("comment not found")

	// ErrObjectNotFound indicates a storage object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrOwnRating indicates a member tried to rate their own photo
	ErrOwnRating = errors.New("cannot rate own photo")

	// ErrInvalidRatingValue indicates a rating outside the accepted range
	ErrInvalidRatingValue = errors.New("invalid rating value")

	// ErrNoJobDue indicates no job in the topic is eligible to run
	ErrNoJobDue = errors.New("no job due")

	// ErrJobNotFound indicates a claimed job no longer exists
	ErrJobNotFound = errors.New("job not found")
)

// StorageError represents a failure of a storage backend operation.
// Callers must not assume partial writes are visible.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ProcessingError represents an unreadable or corrupt source image.
// Generation for that asset is terminal until the asset is replaced.
type ProcessingError struct {
	Key string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed for key %s: %v", e.Key, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// CapacityError reports a full curation bucket. It is distinct from
// validation failures so callers can present "bucket full" specifically.
type CapacityError struct {
	UserID uuid.UUID
	Year   int
	Limit  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("curation bucket %d for user %s is full (limit %d)", e.Year, e.UserID, e.Limit)
}

// ConcurrencyConflict reports stale state observed during a transactional
// mutation. Resolved by retrying from a fresh read.
type ConcurrencyConflict struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict during %s: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflict) Unwrap() error {
	return e.Err
}

// JobDispatchError reports a batch handler failure. The job is released
// for retry and the high-water mark is left untouched.
type JobDispatchError struct {
	Topic string
	JobID uuid.UUID
	Err   error
}

func (e *JobDispatchError) Error() string {
	return fmt.Sprintf("dispatch failed for job %s on topic %s: %v", e.JobID, e.Topic, e.Err)
}

func (e *JobDispatchError) Unwrap() error {
	return e.Err
}

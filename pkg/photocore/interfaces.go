package photocore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends.
//
// All operations are idempotent: Delete and DeleteAll on missing keys are
// no-ops. Get materializes a local temporary copy so synchronous image
// processing works uniformly regardless of backend; callers own the
// returned file. Failures are reported as *StorageError.
type BlobStore interface {
	// Get downloads the object and returns a local file path
	Get(ctx context.Context, key string) (string, error)

	// Put uploads the file at localPath under the given key
	Put(ctx context.Context, key string, localPath string) error

	// Delete removes the object; missing keys are a no-op
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every object under the given key prefix
	DeleteAll(ctx context.Context, prefix string) error

	// Exists reports whether an object is stored under the key
	Exists(ctx context.Context, key string) (bool, error)

	// PublicURL returns the public URL for a key. It is a pure naming
	// function; it does not check that the object exists.
	PublicURL(key string) string
}

// Repository defines the interface for primary record persistence.
//
// InTx runs fn against a repository bound to a single transaction;
// nesting is flattened (an InTx inside fn reuses the same transaction).
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	// User operations
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateUser(ctx context.Context, user *User) error

	// Photo operations
	CreatePhoto(ctx context.Context, photo *Photo) error
	GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error)
	UpdatePhoto(ctx context.Context, photo *Photo) error
	DeletePhoto(ctx context.Context, id uuid.UUID) error
	SetPhotoMetadata(ctx context.Context, id uuid.UUID, md *Metadata, takenAt *time.Time) error
	SetPhotoRating(ctx context.Context, id uuid.UUID, rating float64) error
	SetPhotoDerivativeStatus(ctx context.Context, id uuid.UUID, status DerivativeStatus) error

	// CurrentAssetKey returns the owner's asset key as of now. An owner
	// with no asset returns "". A deleted owner returns the owner kind's
	// not-found error.
	CurrentAssetKey(ctx context.Context, owner AssetRef) (string, error)

	// Rating operations
	GetRating(ctx context.Context, photoID, userID uuid.UUID) (*Rating, error)
	SaveRating(ctx context.Context, rating *Rating) error
	DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error
	ListPhotoRatings(ctx context.Context, photoID uuid.UUID) ([]*Rating, error)

	// Feature operations
	GetFeatureByPhoto(ctx context.Context, photoID uuid.UUID) (*Feature, error)
	ListFeatures(ctx context.Context, userID uuid.UUID, year int, opts FeatureListOptions) ([]*Feature, error)
	CreateFeature(ctx context.Context, feature *Feature) error
	UpdateFeature(ctx context.Context, feature *Feature) error
	DeleteFeature(ctx context.Context, id uuid.UUID) error

	// Comment operations
	CreateComment(ctx context.Context, comment *Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (*Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
	DeletePhotoComments(ctx context.Context, photoID uuid.UUID) error
	ListCommentsSince(ctx context.Context, since time.Time) ([]*Comment, error)
}

// FeatureListOptions controls ordering and locking of a bucket listing.
type FeatureListOptions struct {
	// Lock acquires row locks on the bucket so concurrent renumbering
	// serializes (SELECT ... FOR UPDATE in postgres).
	Lock bool

	// UpdatedAtDesc breaks position ties by most-recently-updated first
	// instead of least-recently-updated first.
	UpdatedAtDesc bool
}

// EnqueueJobParams describes a singleton job insert-or-refresh.
type EnqueueJobParams struct {
	Topic   string
	Key     string
	Payload []byte
	RunAt   time.Time
}

// JobStore defines the interface for the persistent background job queue.
//
// Enqueue provides singleton-per-(topic,key) semantics among pending jobs:
// a second enqueue refreshes the existing job, pushing RunAt forward and
// replacing the payload. Delivery is at-least-once; handlers must be
// idempotent against duplicate batches.
type JobStore interface {
	Enqueue(ctx context.Context, params EnqueueJobParams) error

	// PendingJob returns the unclaimed job for (topic, key), or
	// ErrJobNotFound. Producers use it to fold state from a pending job
	// into the payload of a refreshing enqueue.
	PendingJob(ctx context.Context, topic, key string) (*Job, error)

	// ClaimDue claims one eligible job on the topic, or ErrNoJobDue.
	ClaimDue(ctx context.Context, topic string, now time.Time) (*Job, error)

	// Complete removes a claimed job.
	Complete(ctx context.Context, id uuid.UUID) error

	// Release unclaims a job and reschedules it for runAt.
	Release(ctx context.Context, id uuid.UUID, runAt time.Time) error

	// Watermark returns the topic's dispatch high-water mark. Topics with
	// no mark return the zero time.
	Watermark(ctx context.Context, topic string) (time.Time, error)
	SetWatermark(ctx context.Context, topic string, mark time.Time) error
}

// AssetNotifier receives asset reference changes from record mutations.
// Implemented by AssetLifecycle; a nil notifier drops the change.
type AssetNotifier interface {
	NotifyAssetChanged(ctx context.Context, change AssetChange) error
}

// CommentNotifier schedules the debounced comment notification batch.
// Implemented by Scheduler.
type CommentNotifier interface {
	EnqueueComment(ctx context.Context, commentID uuid.UUID) error
}

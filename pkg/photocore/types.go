package photocore

import (
	"time"

	"github.com/google/uuid"
)

// OwnerKind identifies the kind of record an asset reference lives on.
type OwnerKind string

const (
	OwnerKindPhoto OwnerKind = "photo"
	OwnerKindUser  OwnerKind = "user"
)

// AssetRef identifies the record that owns a binary asset.
type AssetRef struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// AssetChange describes an asset reference transition on an owning record.
// Either key may be empty: set on upload, replaced on edit, cleared on
// owner deletion.
type AssetChange struct {
	Owner       AssetRef `json:"owner"`
	PreviousKey string   `json:"previous_key"`
	NewKey      string   `json:"new_key"`
}

// DerivativeStatus reflects the state of a photo's derivative set.
type DerivativeStatus string

const (
	// DerivativeStatusNone means the photo has no asset yet.
	DerivativeStatusNone DerivativeStatus = ""

	// DerivativeStatusPending means a regeneration job has been enqueued
	// but has not completed.
	DerivativeStatusPending DerivativeStatus = "pending"

	// DerivativeStatusReady means derivatives exist for the current asset.
	DerivativeStatusReady DerivativeStatus = "ready"

	// DerivativeStatusFailed means the last generation attempt failed.
	// The record stays usable; a subsequent asset replace retries.
	DerivativeStatusFailed DerivativeStatus = "failed"
)

// User represents a member. Only the fields the derived-state core needs
// are modeled here; profile and auth fields belong to the web layer.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Picture   string    `json:"picture,omitempty"` // storage key of the profile picture
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Photo represents a primary photo record.
type Photo struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	Filename         string           `json:"filename,omitempty"`
	File             string           `json:"file,omitempty"` // storage key of the primary asset
	Caption          string           `json:"caption,omitempty"`
	Description      string           `json:"description,omitempty"`
	Metadata         *Metadata        `json:"metadata,omitempty"`
	TakenAt          *time.Time       `json:"taken_at,omitempty"`
	Rating           float64          `json:"rating"` // cached aggregate, recomputed from ratings
	DerivativeStatus DerivativeStatus `json:"derivative_status,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Metadata is the structured document extracted from a photo's embedded
// tags. It is recomputed in full on every asset replace, never patched.
// Only EXIF-carried sections are extracted; IPTC and ICC blocks are out
// of the decoder's reach and are not kept.
type Metadata struct {
	File map[string]string `json:"file,omitempty"`
	Exif map[string]string `json:"exif,omitempty"`
	GPS  map[string]string `json:"gps,omitempty"`
}

// Rating is one member's rating of a photo. At most one row exists per
// (photo, rater) pair.
type Rating struct {
	ID        uuid.UUID `json:"id"`
	PhotoID   uuid.UUID `json:"photo_id"`
	UserID    uuid.UUID `json:"user_id"`
	Value     int       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RatingValueMin and RatingValueMax bound the accepted rating range.
// Zero is the sentinel "no rating" and removes the row.
const (
	RatingValueNone = 0
	RatingValueMin  = 1
	RatingValueMax  = 5
)

// Feature is a curation slot: a photo's ordinal position within the
// (owner, year) bucket. Positions in a bucket form a dense 1..N sequence
// and a photo holds at most one slot globally.
type Feature struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	PhotoID   uuid.UUID `json:"photo_id"`
	Year      int       `json:"year"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxFeaturesPerYear caps the size of a curation bucket.
const MaxFeaturesPerYear = 12

// Comment is a member comment on a photo. Creating one schedules the
// debounced notification batch.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	PhotoID   uuid.UUID `json:"photo_id"`
	UserID    uuid.UUID `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is a persisted unit of background work. Jobs are singletons per
// (topic, key): re-enqueueing an existing pending job pushes its earliest
// run time forward instead of creating a duplicate.
type Job struct {
	ID        uuid.UUID  `json:"id"`
	Topic     string     `json:"topic"`
	Key       string     `json:"key"`
	Payload   []byte     `json:"payload,omitempty"`
	RunAt     time.Time  `json:"run_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Well-known job topics.
const (
	TopicAssets   = "assets"
	TopicComments = "comments"
)

// PhotoURLs are the public URLs for a photo's primary asset and its
// derivatives. Derivative URLs are a pure string substitution over the
// primary URL; the web layer never calls the pipeline to resolve them.
type PhotoURLs struct {
	FileURL  string `json:"file_url,omitempty"`
	ThumbURL string `json:"thumb_url,omitempty"`
	LargeURL string `json:"large_url,omitempty"`
}

// PictureURLs are the public URLs for a user's profile picture.
type PictureURLs struct {
	PictureURL string `json:"picture_url,omitempty"`
	ThumbURL   string `json:"thumb_url,omitempty"`
}

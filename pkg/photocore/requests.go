package photocore

import "github.com/google/uuid"

// CreateUserRequest contains parameters for creating a user record.
type CreateUserRequest struct {
	Username string
	Picture  string // optional storage key, triggers the picture pipeline
}

// UpdateUserPictureRequest replaces a user's profile picture asset.
type UpdateUserPictureRequest struct {
	UserID  uuid.UUID
	Picture string // new storage key; "" clears the picture
}

// CreatePhotoRequest contains parameters for creating a photo record.
type CreatePhotoRequest struct {
	UserID      uuid.UUID
	Filename    string
	File        string // storage key of the uploaded primary asset
	Caption     string
	Description string
}

// ReplacePhotoFileRequest replaces a photo's primary asset.
type ReplacePhotoFileRequest struct {
	PhotoID  uuid.UUID
	Filename string
	File     string // new storage key; "" clears the asset
}

// RatePhotoRequest upserts a member's rating of a photo. A Value of
// RatingValueNone removes the rating.
type RatePhotoRequest struct {
	PhotoID uuid.UUID
	UserID  uuid.UUID
	Value   int
}

// SetFeatureRequest assigns, moves or removes a photo's curation slot.
// A nil Year removes an existing slot. A nil Position appends to the end
// of the bucket when creating, or leaves the position unchanged.
type SetFeatureRequest struct {
	PhotoID  uuid.UUID
	Year     *int
	Position *int
}

// CreateCommentRequest creates a comment and schedules the debounced
// notification batch.
type CreateCommentRequest struct {
	PhotoID uuid.UUID
	UserID  uuid.UUID
	Body    string
}

package photocore

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the record-mutation surface of the derived-state core.
// The web layer invokes these operations through narrow contracts; all
// derived and aggregate state maintenance hangs off them.
type Service interface {
	// User operations
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateUserPicture(ctx context.Context, req UpdateUserPictureRequest) (*User, error)

	// Photo operations
	CreatePhoto(ctx context.Context, req CreatePhotoRequest) (*Photo, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error)
	ReplacePhotoFile(ctx context.Context, req ReplacePhotoFileRequest) (*Photo, error)
	DeletePhoto(ctx context.Context, id uuid.UUID) error

	// Rating operations (aggregate maintained in the same transaction)
	RatePhoto(ctx context.Context, req RatePhotoRequest) (*Rating, error)
	DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error

	// Curation operations
	SetFeature(ctx context.Context, req SetFeatureRequest) (*Feature, error)

	// Comment operations
	CreateComment(ctx context.Context, req CreateCommentRequest) (*Comment, error)

	// URL helpers; pure naming over the backend's public-URL scheme
	PhotoURLs(photo *Photo) PhotoURLs
	UserPictureURLs(user *User) PictureURLs
}

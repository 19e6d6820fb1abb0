package photocore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/photoclub/photocore/pkg/photocore/assetkey"
)

// service implements the Service interface
type service struct {
	repository Repository
	blobStore  BlobStore
	assets     AssetNotifier
	comments   CommentNotifier
	photoKeys  assetkey.Strategy
	userKeys   assetkey.Strategy
	logger     *slog.Logger
	now        func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the storage backend used for public URL resolution
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithAssetNotifier sets the sink for asset reference changes
func WithAssetNotifier(notifier AssetNotifier) Option {
	return func(s *service) {
		s.assets = notifier
	}
}

// WithCommentNotifier sets the debounced comment notification scheduler
func WithCommentNotifier(notifier CommentNotifier) Option {
	return func(s *service) {
		s.comments = notifier
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		photoKeys: assetkey.PhotoProfile(),
		userKeys:  assetkey.PictureProfile(),
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	return s, nil
}

// User operations

func (s *service) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	now := s.now().UTC()
	user := &User{
		ID:        uuid.New(),
		Username:  req.Username,
		Picture:   req.Picture,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repository.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if user.Picture != "" {
		s.notifyAssetChanged(ctx, AssetChange{
			Owner:  AssetRef{Kind: OwnerKindUser, ID: user.ID},
			NewKey: user.Picture,
		})
	}

	return user, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repository.GetUser(ctx, id)
}

func (s *service) UpdateUserPicture(ctx context.Context, req UpdateUserPictureRequest) (*User, error) {
	user, err := s.repository.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	previous := user.Picture
	if previous == req.Picture {
		return user, nil
	}

	user.Picture = req.Picture
	user.UpdatedAt = s.now().UTC()
	if err := s.repository.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user picture: %w", err)
	}

	s.notifyAssetChanged(ctx, AssetChange{
		Owner:       AssetRef{Kind: OwnerKindUser, ID: user.ID},
		PreviousKey: previous,
		NewKey:      user.Picture,
	})

	return user, nil
}

// Photo operations

func (s *service) CreatePhoto(ctx context.Context, req CreatePhotoRequest) (*Photo, error) {
	now := s.now().UTC()
	photo := &Photo{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Filename:    req.Filename,
		File:        req.File,
		Caption:     req.Caption,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if photo.File != "" {
		photo.DerivativeStatus = DerivativeStatusPending
	}

	if err := s.repository.CreatePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}

	if photo.File != "" {
		s.notifyAssetChanged(ctx, AssetChange{
			Owner:  AssetRef{Kind: OwnerKindPhoto, ID: photo.ID},
			NewKey: photo.File,
		})
	}

	return photo, nil
}

func (s *service) GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error) {
	return s.repository.GetPhoto(ctx, id)
}

func (s *service) ReplacePhotoFile(ctx context.Context, req ReplacePhotoFileRequest) (*Photo, error) {
	photo, err := s.repository.GetPhoto(ctx, req.PhotoID)
	if err != nil {
		return nil, err
	}

	previous := photo.File
	if previous == req.File {
		return photo, nil
	}

	photo.File = req.File
	photo.Filename = req.Filename
	photo.UpdatedAt = s.now().UTC()
	if photo.File != "" {
		photo.DerivativeStatus = DerivativeStatusPending
	} else {
		photo.DerivativeStatus = DerivativeStatusNone
	}
	if err := s.repository.UpdatePhoto(ctx, photo); err != nil {
		return nil, fmt.Errorf("replace photo file: %w", err)
	}

	s.notifyAssetChanged(ctx, AssetChange{
		Owner:       AssetRef{Kind: OwnerKindPhoto, ID: photo.ID},
		PreviousKey: previous,
		NewKey:      photo.File,
	})

	return photo, nil
}

func (s *service) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	var previous string
	err := s.repository.InTx(ctx, func(tx Repository) error {
		photo, err := tx.GetPhoto(ctx, id)
		if err != nil {
			return err
		}
		previous = photo.File

		// A held curation slot leaves its bucket; keep the sequence dense.
		feature, err := tx.GetFeatureByPhoto(ctx, id)
		if err != nil && !errors.Is(err, ErrFeatureNotFound) {
			return err
		}
		if feature != nil {
			if err := tx.DeleteFeature(ctx, feature.ID); err != nil {
				return err
			}
			if err := s.renumberBucket(ctx, tx, feature.UserID, feature.Year, false); err != nil {
				return err
			}
		}

		if err := tx.DeletePhotoComments(ctx, id); err != nil {
			return err
		}
		return tx.DeletePhoto(ctx, id)
	})
	if err != nil {
		return err
	}

	if previous != "" {
		s.notifyAssetChanged(ctx, AssetChange{
			Owner:       AssetRef{Kind: OwnerKindPhoto, ID: id},
			PreviousKey: previous,
		})
	}

	return nil
}

// Rating operations

// RatePhoto upserts the rater's rating row and recomputes the photo's
// aggregate in the same transaction. The aggregate is always recomputed
// from scratch over all ratings excluding the owner's own; incremental
// updates would drift on missed increment/decrement pairs.
func (s *service) RatePhoto(ctx context.Context, req RatePhotoRequest) (*Rating, error) {
	if req.Value != RatingValueNone && (req.Value < RatingValueMin || req.Value > RatingValueMax) {
		return nil, ErrInvalidRatingValue
	}

	var rating *Rating
	err := s.repository.InTx(ctx, func(tx Repository) error {
		photo, err := tx.GetPhoto(ctx, req.PhotoID)
		if err != nil {
			return err
		}
		if photo.UserID == req.UserID {
			return ErrOwnRating
		}

		if req.Value == RatingValueNone {
			if err := tx.DeleteRating(ctx, req.PhotoID, req.UserID); err != nil && !errors.Is(err, ErrRatingNotFound) {
				return err
			}
		} else {
			now := s.now().UTC()
			existing, err := tx.GetRating(ctx, req.PhotoID, req.UserID)
			switch {
			case err == nil:
				rating = existing
				rating.Value = req.Value
				rating.UpdatedAt = now
			case errors.Is(err, ErrRatingNotFound):
				rating = &Rating{
					ID:        uuid.New(),
					PhotoID:   req.PhotoID,
					UserID:    req.UserID,
					Value:     req.Value,
					CreatedAt: now,
					UpdatedAt: now,
				}
			default:
				return err
			}
			if err := tx.SaveRating(ctx, rating); err != nil {
				return err
			}
		}

		return s.recomputeRating(ctx, tx, photo)
	})
	if err != nil {
		return nil, err
	}

	return rating, nil
}

// DeleteRating removes the rater's rating row, if any, and recomputes
// the photo's aggregate. Equivalent to RatePhoto with a zero value.
func (s *service) DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error {
	_, err := s.RatePhoto(ctx, RatePhotoRequest{PhotoID: photoID, UserID: userID, Value: RatingValueNone})
	return err
}

// recomputeRating writes the mean of all ratings excluding the photo
// owner's own rating; zero when none remain.
func (s *service) recomputeRating(ctx context.Context, tx Repository, photo *Photo) error {
	ratings, err := tx.ListPhotoRatings(ctx, photo.ID)
	if err != nil {
		return err
	}

	sum, count := 0, 0
	for _, r := range ratings {
		if r.UserID == photo.UserID {
			continue
		}
		sum += r.Value
		count++
	}

	aggregate := 0.0
	if count > 0 {
		aggregate = float64(sum) / float64(count)
	}
	return tx.SetPhotoRating(ctx, photo.ID, aggregate)
}

// Curation operations

// SetFeature assigns, moves or removes a photo's curation slot within the
// (owner, year) bucket. The whole operation runs in one transaction with
// the bucket rows locked, so concurrent calls for the same bucket
// serialize and positions stay a dense 1..N sequence.
func (s *service) SetFeature(ctx context.Context, req SetFeatureRequest) (*Feature, error) {
	var feature *Feature
	err := s.repository.InTx(ctx, func(tx Repository) error {
		photo, err := tx.GetPhoto(ctx, req.PhotoID)
		if err != nil {
			return err
		}

		existing, err := tx.GetFeatureByPhoto(ctx, req.PhotoID)
		if err != nil && !errors.Is(err, ErrFeatureNotFound) {
			return err
		}

		if req.Year == nil {
			// Un-curate.
			if existing == nil {
				return ErrFeatureNotFound
			}
			if err := tx.DeleteFeature(ctx, existing.ID); err != nil {
				return err
			}
			return s.renumberBucket(ctx, tx, existing.UserID, existing.Year, false)
		}
		year := *req.Year

		if existing != nil && existing.Year == year {
			feature = existing
			if req.Position == nil || *req.Position == existing.Position {
				return nil
			}
			// Reorder within the bucket. The moved row is written first so
			// its updated-at is newest; the tie-break direction then decides
			// whether it lands before or after rows sharing its position.
			movedForward := *req.Position < existing.Position
			existing.Position = *req.Position
			existing.UpdatedAt = s.now().UTC()
			if err := tx.UpdateFeature(ctx, existing); err != nil {
				return err
			}
			return s.renumberBucket(ctx, tx, existing.UserID, year, movedForward)
		}

		// Append to a new or different bucket, capacity permitting.
		bucket, err := tx.ListFeatures(ctx, photo.UserID, year, FeatureListOptions{Lock: true})
		if err != nil {
			return err
		}
		if len(bucket) >= MaxFeaturesPerYear {
			return &CapacityError{UserID: photo.UserID, Year: year, Limit: MaxFeaturesPerYear}
		}

		now := s.now().UTC()
		if existing != nil {
			oldYear := existing.Year
			existing.Year = year
			existing.Position = len(bucket) + 1
			existing.UpdatedAt = now
			if err := tx.UpdateFeature(ctx, existing); err != nil {
				return err
			}
			feature = existing
			return s.renumberBucket(ctx, tx, existing.UserID, oldYear, false)
		}

		feature = &Feature{
			ID:        uuid.New(),
			UserID:    photo.UserID,
			PhotoID:   photo.ID,
			Year:      year,
			Position:  len(bucket) + 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.CreateFeature(ctx, feature)
	})
	if err != nil {
		return nil, err
	}

	return feature, nil
}

// renumberBucket restores a dense 1..N sequence over the bucket. Rows are
// read ordered by position with an updated-at tie-break; updatedAtDesc
// places the most recently touched row first among equal positions.
func (s *service) renumberBucket(ctx context.Context, tx Repository, userID uuid.UUID, year int, updatedAtDesc bool) error {
	bucket, err := tx.ListFeatures(ctx, userID, year, FeatureListOptions{Lock: true, UpdatedAtDesc: updatedAtDesc})
	if err != nil {
		return err
	}
	for i, f := range bucket {
		if f.Position != i+1 {
			f.Position = i + 1
			if err := tx.UpdateFeature(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Comment operations

func (s *service) CreateComment(ctx context.Context, req CreateCommentRequest) (*Comment, error) {
	now := s.now().UTC()
	comment := &Comment{
		ID:        uuid.New(),
		PhotoID:   req.PhotoID,
		UserID:    req.UserID,
		Body:      req.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repository.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	if s.comments != nil {
		if err := s.comments.EnqueueComment(ctx, comment.ID); err != nil {
			// The comment is saved; a lost notification is recovered by the
			// next comment's enqueue refreshing the same debounce window.
			s.logger.Error("failed to enqueue comment notification",
				"comment_id", comment.ID, "error", err)
		}
	}

	return comment, nil
}

// URL helpers

func (s *service) PhotoURLs(photo *Photo) PhotoURLs {
	if s.blobStore == nil || photo == nil || photo.File == "" {
		return PhotoURLs{}
	}
	fileURL := s.blobStore.PublicURL(photo.File)
	urls := PhotoURLs{FileURL: fileURL}
	for _, v := range s.photoKeys.Variants() {
		u := s.photoKeys.DerivativeKey(fileURL, v)
		switch v.Label {
		case "thumb":
			urls.ThumbURL = u
		case "large":
			urls.LargeURL = u
		}
	}
	return urls
}

func (s *service) UserPictureURLs(user *User) PictureURLs {
	if s.blobStore == nil || user == nil || user.Picture == "" {
		return PictureURLs{}
	}
	pictureURL := s.blobStore.PublicURL(user.Picture)
	urls := PictureURLs{PictureURL: pictureURL}
	for _, v := range s.userKeys.Variants() {
		if v.Label == "thumb" {
			urls.ThumbURL = s.userKeys.DerivativeKey(pictureURL, v)
		}
	}
	return urls
}

// notifyAssetChanged hands the change to the lifecycle pipeline. The
// triggering save has already committed; pipeline failures must not
// surface as a failed save, so they are logged and dropped here.
func (s *service) notifyAssetChanged(ctx context.Context, change AssetChange) {
	if s.assets == nil {
		return
	}
	if err := s.assets.NotifyAssetChanged(ctx, change); err != nil {
		s.logger.Error("failed to schedule asset pipeline",
			"owner_kind", change.Owner.Kind,
			"owner_id", change.Owner.ID,
			"error", err)
	}
}

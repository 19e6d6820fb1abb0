package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/photoclub/photocore/pkg/photocore"
)

// Repository implements photocore.Repository and photocore.JobStore using
// in-memory storage. Transactions are serialized under a single mutex;
// a failed transaction rolls the whole state back to its snapshot, so
// tests observe the same all-or-nothing behavior as the postgres
// repository.
type Repository struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	users      map[uuid.UUID]*photocore.User
	photos     map[uuid.UUID]*photocore.Photo
	ratings    map[uuid.UUID]*photocore.Rating
	features   map[uuid.UUID]*photocore.Feature
	comments   map[uuid.UUID]*photocore.Comment
	jobs       map[uuid.UUID]*photocore.Job
	watermarks map[string]time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		state: &state{
			users:      make(map[uuid.UUID]*photocore.User),
			photos:     make(map[uuid.UUID]*photocore.Photo),
			ratings:    make(map[uuid.UUID]*photocore.Rating),
			features:   make(map[uuid.UUID]*photocore.Feature),
			comments:   make(map[uuid.UUID]*photocore.Comment),
			jobs:       make(map[uuid.UUID]*photocore.Job),
			watermarks: make(map[string]time.Time),
		},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:      make(map[uuid.UUID]*photocore.User, len(s.users)),
		photos:     make(map[uuid.UUID]*photocore.Photo, len(s.photos)),
		ratings:    make(map[uuid.UUID]*photocore.Rating, len(s.ratings)),
		features:   make(map[uuid.UUID]*photocore.Feature, len(s.features)),
		comments:   make(map[uuid.UUID]*photocore.Comment, len(s.comments)),
		jobs:       make(map[uuid.UUID]*photocore.Job, len(s.jobs)),
		watermarks: make(map[string]time.Time, len(s.watermarks)),
	}
	for id, u := range s.users {
		uCopy := *u
		c.users[id] = &uCopy
	}
	for id, p := range s.photos {
		pCopy := *p
		c.photos[id] = &pCopy
	}
	for id, rt := range s.ratings {
		rtCopy := *rt
		c.ratings[id] = &rtCopy
	}
	for id, f := range s.features {
		fCopy := *f
		c.features[id] = &fCopy
	}
	for id, cm := range s.comments {
		cmCopy := *cm
		c.comments[id] = &cmCopy
	}
	for id, j := range s.jobs {
		jCopy := *j
		c.jobs[id] = &jCopy
	}
	for topic, mark := range s.watermarks {
		c.watermarks[topic] = mark
	}
	return c
}

// InTx runs fn against a view of the repository bound to the current
// lock. A nested InTx reuses the same view.
func (r *Repository) InTx(ctx context.Context, fn func(photocore.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(&txView{state: r.state}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

// txView exposes the state without re-locking for use inside InTx.
type txView struct {
	state *state
}

func (t *txView) InTx(ctx context.Context, fn func(photocore.Repository) error) error {
	return fn(t)
}

// User operations

func (r *Repository) CreateUser(ctx context.Context, user *photocore.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.createUser(user)
}

func (t *txView) CreateUser(ctx context.Context, user *photocore.User) error {
	return t.state.createUser(user)
}

func (s *state) createUser(user *photocore.User) error {
	userCopy := *user
	s.users[user.ID] = &userCopy
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*photocore.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.getUser(id)
}

func (t *txView) GetUser(ctx context.Context, id uuid.UUID) (*photocore.User, error) {
	return t.state.getUser(id)
}

func (s *state) getUser(id uuid.UUID) (*photocore.User, error) {
	user, exists := s.users[id]
	if !exists {
		return nil, photocore.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (r *Repository) UpdateUser(ctx context.Context, user *photocore.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.updateUser(user)
}

func (t *txView) UpdateUser(ctx context.Context, user *photocore.User) error {
	return t.state.updateUser(user)
}

func (s *state) updateUser(user *photocore.User) error {
	if _, exists := s.users[user.ID]; !exists {
		return photocore.ErrUserNotFound
	}
	userCopy := *user
	s.users[user.ID] = &userCopy
	return nil
}

// Photo operations

func (r *Repository) CreatePhoto(ctx context.Context, photo *photocore.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.createPhoto(photo)
}

func (t *txView) CreatePhoto(ctx context.Context, photo *photocore.Photo) error {
	return t.state.createPhoto(photo)
}

func (s *state) createPhoto(photo *photocore.Photo) error {
	photoCopy := *photo
	s.photos[photo.ID] = &photoCopy
	return nil
}

func (r *Repository) GetPhoto(ctx context.Context, id uuid.UUID) (*photocore.Photo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.getPhoto(id)
}

func (t *txView) GetPhoto(ctx context.Context, id uuid.UUID) (*photocore.Photo, error) {
	return t.state.getPhoto(id)
}

func (s *state) getPhoto(id uuid.UUID) (*photocore.Photo, error) {
	photo, exists := s.photos[id]
	if !exists {
		return nil, photocore.ErrPhotoNotFound
	}
	photoCopy := *photo
	return &photoCopy, nil
}

func (r *Repository) UpdatePhoto(ctx context.Context, photo *photocore.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.updatePhoto(photo)
}

func (t *txView) UpdatePhoto(ctx context.Context, photo *photocore.Photo) error {
	return t.state.updatePhoto(photo)
}

func (s *state) updatePhoto(photo *photocore.Photo) error {
	if _, exists := s.photos[photo.ID]; !exists {
		return photocore.ErrPhotoNotFound
	}
	photoCopy := *photo
	s.photos[photo.ID] = &photoCopy
	return nil
}

func (r *Repository) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.deletePhoto(id)
}

func (t *txView) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	return t.state.deletePhoto(id)
}

func (s *state) deletePhoto(id uuid.UUID) error {
	if _, exists := s.photos[id]; !exists {
		return photocore.ErrPhotoNotFound
	}
	delete(s.photos, id)
	// Mirror the postgres schema's ON DELETE CASCADE.
	for rid, rt := range s.ratings {
		if rt.PhotoID == id {
			delete(s.ratings, rid)
		}
	}
	return nil
}

func (r *Repository) SetPhotoMetadata(ctx context.Context, id uuid.UUID, md *photocore.Metadata, takenAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.setPhotoMetadata(id, md, takenAt)
}

func (t *txView) SetPhotoMetadata(ctx context.Context, id uuid.UUID, md *photocore.Metadata, takenAt *time.Time) error {
	return t.state.setPhotoMetadata(id, md, takenAt)
}

func (s *state) setPhotoMetadata(id uuid.UUID, md *photocore.Metadata, takenAt *time.Time) error {
	photo, exists := s.photos[id]
	if !exists {
		return photocore.ErrPhotoNotFound
	}
	photo.Metadata = md
	photo.TakenAt = takenAt
	return nil
}

func (r *Repository) SetPhotoRating(ctx context.Context, id uuid.UUID, rating float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.setPhotoRating(id, rating)
}

func (t *txView) SetPhotoRating(ctx context.Context, id uuid.UUID, rating float64) error {
	return t.state.setPhotoRating(id, rating)
}

func (s *state) setPhotoRating(id uuid.UUID, rating float64) error {
	photo, exists := s.photos[id]
	if !exists {
		return photocore.ErrPhotoNotFound
	}
	photo.Rating = rating
	return nil
}

func (r *Repository) SetPhotoDerivativeStatus(ctx context.Context, id uuid.UUID, status photocore.DerivativeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.setPhotoDerivativeStatus(id, status)
}

func (t *txView) SetPhotoDerivativeStatus(ctx context.Context, id uuid.UUID, status photocore.DerivativeStatus) error {
	return t.state.setPhotoDerivativeStatus(id, status)
}

func (s *state) setPhotoDerivativeStatus(id uuid.UUID, status photocore.DerivativeStatus) error {
	photo, exists := s.photos[id]
	if !exists {
		return photocore.ErrPhotoNotFound
	}
	photo.DerivativeStatus = status
	return nil
}

func (r *Repository) CurrentAssetKey(ctx context.Context, owner photocore.AssetRef) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.currentAssetKey(owner)
}

func (t *txView) CurrentAssetKey(ctx context.Context, owner photocore.AssetRef) (string, error) {
	return t.state.currentAssetKey(owner)
}

func (s *state) currentAssetKey(owner photocore.AssetRef) (string, error) {
	switch owner.Kind {
	case photocore.OwnerKindPhoto:
		photo, exists := s.photos[owner.ID]
		if !exists {
			return "", photocore.ErrPhotoNotFound
		}
		return photo.File, nil
	case photocore.OwnerKindUser:
		user, exists := s.users[owner.ID]
		if !exists {
			return "", photocore.ErrUserNotFound
		}
		return user.Picture, nil
	default:
		return "", photocore.ErrPhotoNotFound
	}
}

// Rating operations

func (r *Repository) GetRating(ctx context.Context, photoID, userID uuid.UUID) (*photocore.Rating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.getRating(photoID, userID)
}

func (t *txView) GetRating(ctx context.Context, photoID, userID uuid.UUID) (*photocore.Rating, error) {
	return t.state.getRating(photoID, userID)
}

func (s *state) getRating(photoID, userID uuid.UUID) (*photocore.Rating, error) {
	for _, rating := range s.ratings {
		if rating.PhotoID == photoID && rating.UserID == userID {
			ratingCopy := *rating
			return &ratingCopy, nil
		}
	}
	return nil, photocore.ErrRatingNotFound
}

func (r *Repository) SaveRating(ctx context.Context, rating *photocore.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.saveRating(rating)
}

func (t *txView) SaveRating(ctx context.Context, rating *photocore.Rating) error {
	return t.state.saveRating(rating)
}

func (s *state) saveRating(rating *photocore.Rating) error {
	// Upsert on the (photo, rater) pair
	for id, existing := range s.ratings {
		if existing.PhotoID == rating.PhotoID && existing.UserID == rating.UserID && id != rating.ID {
			delete(s.ratings, id)
		}
	}
	ratingCopy := *rating
	s.ratings[rating.ID] = &ratingCopy
	return nil
}

func (r *Repository) DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.deleteRating(photoID, userID)
}

func (t *txView) DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error {
	return t.state.deleteRating(photoID, userID)
}

func (s *state) deleteRating(photoID, userID uuid.UUID) error {
	for id, rating := range s.ratings {
		if rating.PhotoID == photoID && rating.UserID == userID {
			delete(s.ratings, id)
			return nil
		}
	}
	return photocore.ErrRatingNotFound
}

func (r *Repository) ListPhotoRatings(ctx context.Context, photoID uuid.UUID) ([]*photocore.Rating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.listPhotoRatings(photoID)
}

func (t *txView) ListPhotoRatings(ctx context.Context, photoID uuid.UUID) ([]*photocore.Rating, error) {
	return t.state.listPhotoRatings(photoID)
}

func (s *state) listPhotoRatings(photoID uuid.UUID) ([]*photocore.Rating, error) {
	var ratings []*photocore.Rating
	for _, rating := range s.ratings {
		if rating.PhotoID == photoID {
			ratingCopy := *rating
			ratings = append(ratings, &ratingCopy)
		}
	}
	sort.Slice(ratings, func(i, j int) bool {
		return ratings[i].CreatedAt.Before(ratings[j].CreatedAt)
	})
	return ratings, nil
}

// Feature operations

func (r *Repository) GetFeatureByPhoto(ctx context.Context, photoID uuid.UUID) (*photocore.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.getFeatureByPhoto(photoID)
}

func (t *txView) GetFeatureByPhoto(ctx context.Context, photoID uuid.UUID) (*photocore.Feature, error) {
	return t.state.getFeatureByPhoto(photoID)
}

func (s *state) getFeatureByPhoto(photoID uuid.UUID) (*photocore.Feature, error) {
	for _, feature := range s.features {
		if feature.PhotoID == photoID {
			featureCopy := *feature
			return &featureCopy, nil
		}
	}
	return nil, photocore.ErrFeatureNotFound
}

func (r *Repository) ListFeatures(ctx context.Context, userID uuid.UUID, year int, opts photocore.FeatureListOptions) ([]*photocore.Feature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.listFeatures(userID, year, opts)
}

func (t *txView) ListFeatures(ctx context.Context, userID uuid.UUID, year int, opts photocore.FeatureListOptions) ([]*photocore.Feature, error) {
	return t.state.listFeatures(userID, year, opts)
}

func (s *state) listFeatures(userID uuid.UUID, year int, opts photocore.FeatureListOptions) ([]*photocore.Feature, error) {
	var features []*photocore.Feature
	for _, feature := range s.features {
		if feature.UserID == userID && feature.Year == year {
			featureCopy := *feature
			features = append(features, &featureCopy)
		}
	}
	sort.Slice(features, func(i, j int) bool {
		if features[i].Position != features[j].Position {
			return features[i].Position < features[j].Position
		}
		if opts.UpdatedAtDesc {
			return features[i].UpdatedAt.After(features[j].UpdatedAt)
		}
		return features[i].UpdatedAt.Before(features[j].UpdatedAt)
	})
	return features, nil
}

func (r *Repository) CreateFeature(ctx context.Context, feature *photocore.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.createFeature(feature)
}

func (t *txView) CreateFeature(ctx context.Context, feature *photocore.Feature) error {
	return t.state.createFeature(feature)
}

func (s *state) createFeature(feature *photocore.Feature) error {
	featureCopy := *feature
	s.features[feature.ID] = &featureCopy
	return nil
}

func (r *Repository) UpdateFeature(ctx context.Context, feature *photocore.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.updateFeature(feature)
}

func (t *txView) UpdateFeature(ctx context.Context, feature *photocore.Feature) error {
	return t.state.updateFeature(feature)
}

func (s *state) updateFeature(feature *photocore.Feature) error {
	if _, exists := s.features[feature.ID]; !exists {
		return photocore.ErrFeatureNotFound
	}
	featureCopy := *feature
	s.features[feature.ID] = &featureCopy
	return nil
}

func (r *Repository) DeleteFeature(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.deleteFeature(id)
}

func (t *txView) DeleteFeature(ctx context.Context, id uuid.UUID) error {
	return t.state.deleteFeature(id)
}

func (s *state) deleteFeature(id uuid.UUID) error {
	if _, exists := s.features[id]; !exists {
		return photocore.ErrFeatureNotFound
	}
	delete(s.features, id)
	return nil
}

// Comment operations

func (r *Repository) CreateComment(ctx context.Context, comment *photocore.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.createComment(comment)
}

func (t *txView) CreateComment(ctx context.Context, comment *photocore.Comment) error {
	return t.state.createComment(comment)
}

func (s *state) createComment(comment *photocore.Comment) error {
	commentCopy := *comment
	s.comments[comment.ID] = &commentCopy
	return nil
}

func (r *Repository) GetComment(ctx context.Context, id uuid.UUID) (*photocore.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.getComment(id)
}

func (t *txView) GetComment(ctx context.Context, id uuid.UUID) (*photocore.Comment, error) {
	return t.state.getComment(id)
}

func (s *state) getComment(id uuid.UUID) (*photocore.Comment, error) {
	comment, exists := s.comments[id]
	if !exists {
		return nil, photocore.ErrCommentNotFound
	}
	commentCopy := *comment
	return &commentCopy, nil
}

func (r *Repository) DeleteComment(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.deleteComment(id)
}

func (t *txView) DeleteComment(ctx context.Context, id uuid.UUID) error {
	return t.state.deleteComment(id)
}

func (s *state) deleteComment(id uuid.UUID) error {
	if _, exists := s.comments[id]; !exists {
		return photocore.ErrCommentNotFound
	}
	delete(s.comments, id)
	return nil
}

func (r *Repository) DeletePhotoComments(ctx context.Context, photoID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.deletePhotoComments(photoID)
}

func (t *txView) DeletePhotoComments(ctx context.Context, photoID uuid.UUID) error {
	return t.state.deletePhotoComments(photoID)
}

func (s *state) deletePhotoComments(photoID uuid.UUID) error {
	for id, comment := range s.comments {
		if comment.PhotoID == photoID {
			delete(s.comments, id)
		}
	}
	return nil
}

func (r *Repository) ListCommentsSince(ctx context.Context, since time.Time) ([]*photocore.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.listCommentsSince(since)
}

func (t *txView) ListCommentsSince(ctx context.Context, since time.Time) ([]*photocore.Comment, error) {
	return t.state.listCommentsSince(since)
}

func (s *state) listCommentsSince(since time.Time) ([]*photocore.Comment, error) {
	var comments []*photocore.Comment
	for _, comment := range s.comments {
		if comment.CreatedAt.After(since) {
			commentCopy := *comment
			comments = append(comments, &commentCopy)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID.String() < comments[j].ID.String()
	})
	return comments, nil
}

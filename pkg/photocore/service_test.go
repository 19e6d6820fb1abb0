package photocore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoclub/photocore/pkg/photocore"
	"github.com/photoclub/photocore/pkg/photocore/repo/memory"
	memorystorage "github.com/photoclub/photocore/pkg/photocore/storage/memory"
)

// stepClock hands out strictly increasing timestamps so ordering
// tie-breaks are deterministic.
type stepClock struct {
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingAssetNotifier struct {
	changes []photocore.AssetChange
}

func (r *recordingAssetNotifier) NotifyAssetChanged(ctx context.Context, change photocore.AssetChange) error {
	r.changes = append(r.changes, change)
	return nil
}

type recordingCommentNotifier struct {
	ids []uuid.UUID
	err error
}

func (r *recordingCommentNotifier) EnqueueComment(ctx context.Context, commentID uuid.UUID) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, commentID)
	return nil
}

type testEnv struct {
	svc      photocore.Service
	repo     *memory.Repository
	assets   *recordingAssetNotifier
	comments *recordingCommentNotifier
}

func setupService(t *testing.T) *testEnv {
	env := &testEnv{
		repo:     memory.New(),
		assets:   &recordingAssetNotifier{},
		comments: &recordingCommentNotifier{},
	}

	svc, err := photocore.New(
		photocore.WithRepository(env.repo),
		photocore.WithBlobStore(memorystorage.New()),
		photocore.WithAssetNotifier(env.assets),
		photocore.WithCommentNotifier(env.comments),
		photocore.WithClock(newStepClock().Now),
	)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func (e *testEnv) createUser(t *testing.T, username string) *photocore.User {
	user, err := e.svc.CreateUser(context.Background(), photocore.CreateUserRequest{Username: username})
	require.NoError(t, err)
	return user
}

func (e *testEnv) createPhoto(t *testing.T, owner *photocore.User, file string) *photocore.Photo {
	photo, err := e.svc.CreatePhoto(context.Background(), photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   file,
	})
	require.NoError(t, err)
	return photo
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []photocore.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []photocore.Option{},
			expectError: true,
		},
		{
			name: "with repository should succeed",
			options: []photocore.Option{
				photocore.WithRepository(memory.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := photocore.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestCreateUserWithPictureNotifies(t *testing.T) {
	env := setupService(t)

	user, err := env.svc.CreateUser(context.Background(), photocore.CreateUserRequest{
		Username: "ansel",
		Picture:  "users/ansel/picture/me.jpg",
	})
	require.NoError(t, err)

	require.Len(t, env.assets.changes, 1)
	change := env.assets.changes[0]
	assert.Equal(t, photocore.OwnerKindUser, change.Owner.Kind)
	assert.Equal(t, user.ID, change.Owner.ID)
	assert.Empty(t, change.PreviousKey)
	assert.Equal(t, "users/ansel/picture/me.jpg", change.NewKey)
}

func TestUpdateUserPicture(t *testing.T) {
	env := setupService(t)
	user := env.createUser(t, "ansel")

	_, err := env.svc.UpdateUserPicture(context.Background(), photocore.UpdateUserPictureRequest{
		UserID:  user.ID,
		Picture: "users/ansel/picture/v1.jpg",
	})
	require.NoError(t, err)

	updated, err := env.svc.UpdateUserPicture(context.Background(), photocore.UpdateUserPictureRequest{
		UserID:  user.ID,
		Picture: "users/ansel/picture/v2.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "users/ansel/picture/v2.jpg", updated.Picture)

	require.Len(t, env.assets.changes, 2)
	assert.Equal(t, "users/ansel/picture/v1.jpg", env.assets.changes[1].PreviousKey)
	assert.Equal(t, "users/ansel/picture/v2.jpg", env.assets.changes[1].NewKey)
}

func TestUpdateUserPictureUnchangedDoesNotNotify(t *testing.T) {
	env := setupService(t)
	user, err := env.svc.CreateUser(context.Background(), photocore.CreateUserRequest{
		Username: "ansel",
		Picture:  "users/ansel/picture/me.jpg",
	})
	require.NoError(t, err)
	env.assets.changes = nil

	_, err = env.svc.UpdateUserPicture(context.Background(), photocore.UpdateUserPictureRequest{
		UserID:  user.ID,
		Picture: "users/ansel/picture/me.jpg",
	})
	require.NoError(t, err)
	assert.Empty(t, env.assets.changes)
}

func TestReplacePhotoFile(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "photos/1/file/v1.jpg")
	assert.Equal(t, photocore.DerivativeStatusPending, photo.DerivativeStatus)

	replaced, err := env.svc.ReplacePhotoFile(context.Background(), photocore.ReplacePhotoFileRequest{
		PhotoID: photo.ID,
		File:    "photos/1/file/v2.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, photocore.DerivativeStatusPending, replaced.DerivativeStatus)

	require.Len(t, env.assets.changes, 2)
	assert.Equal(t, "photos/1/file/v1.jpg", env.assets.changes[1].PreviousKey)
	assert.Equal(t, "photos/1/file/v2.jpg", env.assets.changes[1].NewKey)
}

// Rating tests

func TestRatePhotoAggregate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	_, err := env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: alice.ID, Value: 1,
	})
	require.NoError(t, err)

	_, err = env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: bob.ID, Value: 2,
	})
	require.NoError(t, err)

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got.Rating, 1e-9)
}

func TestRatePhotoOwnRating(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")

	_, err := env.svc.RatePhoto(context.Background(), photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: owner.ID, Value: 5,
	})
	assert.ErrorIs(t, err, photocore.ErrOwnRating)
}

func TestRatePhotoInvalidValue(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	rater := env.createUser(t, "rater")

	for _, value := range []int{-1, 6, 100} {
		_, err := env.svc.RatePhoto(context.Background(), photocore.RatePhotoRequest{
			PhotoID: photo.ID, UserID: rater.ID, Value: value,
		})
		assert.ErrorIs(t, err, photocore.ErrInvalidRatingValue, "value %d", value)
	}
}

func TestRatePhotoUpdatesExisting(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	rater := env.createUser(t, "rater")

	_, err := env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: rater.ID, Value: 2,
	})
	require.NoError(t, err)

	_, err = env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: rater.ID, Value: 5,
	})
	require.NoError(t, err)

	ratings, err := env.repo.ListPhotoRatings(ctx, photo.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, 5, ratings[0].Value)

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got.Rating, 1e-9)
}

func TestRatePhotoZeroRemovesRating(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	_, err := env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: alice.ID, Value: 4,
	})
	require.NoError(t, err)
	_, err = env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: bob.ID, Value: 2,
	})
	require.NoError(t, err)

	_, err = env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: alice.ID, Value: photocore.RatingValueNone,
	})
	require.NoError(t, err)

	ratings, err := env.repo.ListPhotoRatings(ctx, photo.ID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, bob.ID, ratings[0].UserID)

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.Rating, 1e-9)
}

func TestRatePhotoZeroWithoutRatingIsNoop(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	rater := env.createUser(t, "rater")

	_, err := env.svc.RatePhoto(context.Background(), photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: rater.ID, Value: photocore.RatingValueNone,
	})
	assert.NoError(t, err)
}

func TestDeleteRating(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	rater := env.createUser(t, "rater")

	_, err := env.svc.RatePhoto(ctx, photocore.RatePhotoRequest{
		PhotoID: photo.ID, UserID: rater.ID, Value: 3,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteRating(ctx, photo.ID, rater.ID))

	ratings, err := env.repo.ListPhotoRatings(ctx, photo.ID)
	require.NoError(t, err)
	assert.Empty(t, ratings)

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Rating)
}

// Curation tests

func intPtr(v int) *int { return &v }

// bucketOrder reads back the bucket's photo ids ordered by position and
// asserts the positions form a dense 1..N sequence.
func bucketOrder(t *testing.T, repo *memory.Repository, userID uuid.UUID, year int) []uuid.UUID {
	t.Helper()
	bucket, err := repo.ListFeatures(context.Background(), userID, year, photocore.FeatureListOptions{})
	require.NoError(t, err)

	var order []uuid.UUID
	for i, f := range bucket {
		require.Equal(t, i+1, f.Position, "positions must be dense")
		order = append(order, f.PhotoID)
	}
	return order
}

func (e *testEnv) feature(t *testing.T, photoID uuid.UUID, year int, position *int) *photocore.Feature {
	feature, err := e.svc.SetFeature(context.Background(), photocore.SetFeatureRequest{
		PhotoID:  photoID,
		Year:     intPtr(year),
		Position: position,
	})
	require.NoError(t, err)
	return feature
}

func TestSetFeatureAppendsDense(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")

	var photos []*photocore.Photo
	for i := 0; i < 3; i++ {
		photos = append(photos, env.createPhoto(t, owner, ""))
	}

	for i, photo := range photos {
		feature := env.feature(t, photo.ID, 2024, nil)
		assert.Equal(t, i+1, feature.Position)
	}

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{photos[0].ID, photos[1].ID, photos[2].ID}, order)
}

func TestSetFeatureCapacity(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")

	for i := 0; i < photocore.MaxFeaturesPerYear; i++ {
		photo := env.createPhoto(t, owner, "")
		env.feature(t, photo.ID, 2024, nil)
	}

	extra := env.createPhoto(t, owner, "")
	_, err := env.svc.SetFeature(context.Background(), photocore.SetFeatureRequest{
		PhotoID: extra.ID,
		Year:    intPtr(2024),
	})
	require.Error(t, err)

	var capErr *photocore.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, photocore.MaxFeaturesPerYear, capErr.Limit)
	assert.Equal(t, 2024, capErr.Year)
}

func TestSetFeatureMoveToFront(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	c := env.createPhoto(t, owner, "")
	for _, p := range []*photocore.Photo{a, b, c} {
		env.feature(t, p.ID, 2024, nil)
	}

	env.feature(t, c.ID, 2024, intPtr(1))

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, order)
}

func TestSetFeatureMoveToBack(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	c := env.createPhoto(t, owner, "")
	for _, p := range []*photocore.Photo{a, b, c} {
		env.feature(t, p.ID, 2024, nil)
	}

	env.feature(t, a.ID, 2024, intPtr(3))

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{b.ID, c.ID, a.ID}, order)
}

func TestSetFeatureMoveToMiddle(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	c := env.createPhoto(t, owner, "")
	for _, p := range []*photocore.Photo{a, b, c} {
		env.feature(t, p.ID, 2024, nil)
	}

	env.feature(t, c.ID, 2024, intPtr(2))

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{a.ID, c.ID, b.ID}, order)
}

func TestSetFeatureSamePositionIsNoop(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	env.feature(t, a.ID, 2024, nil)
	env.feature(t, b.ID, 2024, nil)

	feature := env.feature(t, b.ID, 2024, intPtr(2))
	assert.Equal(t, 2, feature.Position)

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, order)
}

func TestSetFeatureUnfeatureRenumbers(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	c := env.createPhoto(t, owner, "")
	for _, p := range []*photocore.Photo{a, b, c} {
		env.feature(t, p.ID, 2024, nil)
	}

	_, err := env.svc.SetFeature(ctx, photocore.SetFeatureRequest{PhotoID: b.ID})
	require.NoError(t, err)

	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{a.ID, c.ID}, order)

	_, err = env.repo.GetFeatureByPhoto(ctx, b.ID)
	assert.ErrorIs(t, err, photocore.ErrFeatureNotFound)
}

func TestSetFeatureUnfeatureWithoutFeature(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")

	_, err := env.svc.SetFeature(context.Background(), photocore.SetFeatureRequest{PhotoID: photo.ID})
	assert.ErrorIs(t, err, photocore.ErrFeatureNotFound)
}

func TestSetFeatureMoveAcrossYears(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	a := env.createPhoto(t, owner, "")
	b := env.createPhoto(t, owner, "")
	c := env.createPhoto(t, owner, "")
	for _, p := range []*photocore.Photo{a, b, c} {
		env.feature(t, p.ID, 2023, nil)
	}

	moved := env.feature(t, b.ID, 2024, nil)
	assert.Equal(t, 2024, moved.Year)
	assert.Equal(t, 1, moved.Position)

	oldOrder := bucketOrder(t, env.repo, owner.ID, 2023)
	assert.Equal(t, []uuid.UUID{a.ID, c.ID}, oldOrder)

	newOrder := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{b.ID}, newOrder)
}

func TestSetFeatureConcurrentMovesKeepDenseSequence(t *testing.T) {
	// The shared test clock is not safe for concurrent use; this service
	// runs on the real clock.
	repo := memory.New()
	svc, err := photocore.New(
		photocore.WithRepository(repo),
		photocore.WithBlobStore(memorystorage.New()),
	)
	require.NoError(t, err)
	ctx := context.Background()

	owner, err := svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)

	var photos []uuid.UUID
	for i := 0; i < 5; i++ {
		photo, err := svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{UserID: owner.ID})
		require.NoError(t, err)
		_, err = svc.SetFeature(ctx, photocore.SetFeatureRequest{
			PhotoID: photo.ID, Year: intPtr(2024),
		})
		require.NoError(t, err)
		photos = append(photos, photo.ID)
	}

	// Two moves of the same photo race; whichever lands last wins, but the
	// bucket must come out dense either way.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, position := range []int{1, 3} {
		wg.Add(1)
		go func(position int) {
			defer wg.Done()
			_, err := svc.SetFeature(ctx, photocore.SetFeatureRequest{
				PhotoID:  photos[4],
				Year:     intPtr(2024),
				Position: intPtr(position),
			})
			errs <- err
		}(position)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	order := bucketOrder(t, repo, owner.ID, 2024)
	assert.ElementsMatch(t, photos, order)
}

// Deletion tests

func TestDeletePhotoCleansUp(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	commenter := env.createUser(t, "commenter")
	a := env.createPhoto(t, owner, "photos/a/file/a.jpg")
	b := env.createPhoto(t, owner, "")
	env.feature(t, a.ID, 2024, nil)
	env.feature(t, b.ID, 2024, nil)

	comment, err := env.svc.CreateComment(ctx, photocore.CreateCommentRequest{
		PhotoID: a.ID, UserID: commenter.ID, Body: "nice",
	})
	require.NoError(t, err)

	env.assets.changes = nil
	require.NoError(t, env.svc.DeletePhoto(ctx, a.ID))

	_, err = env.svc.GetPhoto(ctx, a.ID)
	assert.ErrorIs(t, err, photocore.ErrPhotoNotFound)

	_, err = env.repo.GetComment(ctx, comment.ID)
	assert.ErrorIs(t, err, photocore.ErrCommentNotFound)

	// The surviving slot closes the gap.
	order := bucketOrder(t, env.repo, owner.ID, 2024)
	assert.Equal(t, []uuid.UUID{b.ID}, order)

	// The pipeline is told to clean the asset; there is no new key.
	require.Len(t, env.assets.changes, 1)
	assert.Equal(t, "photos/a/file/a.jpg", env.assets.changes[0].PreviousKey)
	assert.Empty(t, env.assets.changes[0].NewKey)
}

func TestDeletePhotoWithoutAssetDoesNotNotify(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")
	env.assets.changes = nil

	require.NoError(t, env.svc.DeletePhoto(context.Background(), photo.ID))
	assert.Empty(t, env.assets.changes)
}

// Comment tests

func TestCreateCommentSchedulesNotification(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	commenter := env.createUser(t, "commenter")
	photo := env.createPhoto(t, owner, "")

	comment, err := env.svc.CreateComment(context.Background(), photocore.CreateCommentRequest{
		PhotoID: photo.ID, UserID: commenter.ID, Body: "great shot",
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{comment.ID}, env.comments.ids)
}

func TestCreateCommentSurvivesEnqueueFailure(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	commenter := env.createUser(t, "commenter")
	photo := env.createPhoto(t, owner, "")
	env.comments.err = fmt.Errorf("queue unavailable")

	comment, err := env.svc.CreateComment(context.Background(), photocore.CreateCommentRequest{
		PhotoID: photo.ID, UserID: commenter.ID, Body: "great shot",
	})
	require.NoError(t, err)

	saved, err := env.repo.GetComment(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, "great shot", saved.Body)
}

// URL helpers

func TestPhotoURLs(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "photos/7/file/sunset.jpg")

	urls := env.svc.PhotoURLs(photo)
	assert.Equal(t, "memory://photos/7/file/sunset.jpg", urls.FileURL)
	assert.Equal(t, "memory://photos/7/thumb/sunset.jpg", urls.ThumbURL)
	assert.Equal(t, "memory://photos/7/large/sunset.jpg", urls.LargeURL)
}

func TestPhotoURLsWithoutAsset(t *testing.T) {
	env := setupService(t)
	owner := env.createUser(t, "owner")
	photo := env.createPhoto(t, owner, "")

	assert.Equal(t, photocore.PhotoURLs{}, env.svc.PhotoURLs(photo))
}

func TestUserPictureURLs(t *testing.T) {
	env := setupService(t)
	user, err := env.svc.CreateUser(context.Background(), photocore.CreateUserRequest{
		Username: "ansel",
		Picture:  "users/ansel/picture/me.jpg",
	})
	require.NoError(t, err)

	urls := env.svc.UserPictureURLs(user)
	assert.Equal(t, "memory://users/ansel/picture/me.jpg", urls.PictureURL)
	assert.Equal(t, "memory://users/ansel/thumb/me.jpg", urls.ThumbURL)
}

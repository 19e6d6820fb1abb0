package photocore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoclub/photocore/pkg/photocore"
	"github.com/photoclub/photocore/pkg/photocore/repo/memory"
	memorystorage "github.com/photoclub/photocore/pkg/photocore/storage/memory"
)

func nowUTC() time.Time { return time.Now().UTC() }

type lifecycleEnv struct {
	svc       photocore.Service
	repo      *memory.Repository
	blobs     *memorystorage.Backend
	lifecycle *photocore.AssetLifecycle
}

func setupLifecycle(t *testing.T) *lifecycleEnv {
	env := &lifecycleEnv{
		repo:  memory.New(),
		blobs: memorystorage.New(),
	}
	env.lifecycle = photocore.NewAssetLifecycle(env.repo, env.repo, env.blobs)

	svc, err := photocore.New(
		photocore.WithRepository(env.repo),
		photocore.WithBlobStore(env.blobs),
		photocore.WithAssetNotifier(env.lifecycle),
	)
	require.NoError(t, err)
	env.svc = svc
	return env
}

// drain processes asset jobs until none are due.
func (e *lifecycleEnv) drain(t *testing.T) int {
	t.Helper()
	processed := 0
	for {
		ok, err := e.lifecycle.ProcessOne(context.Background())
		require.NoError(t, err)
		if !ok {
			return processed
		}
		processed++
	}
}

func TestProcessGeneratesDerivativesAndMetadata(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/a.jpg", encodeJPEG(t, 2000, 1000))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/a.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, photocore.DerivativeStatusPending, photo.DerivativeStatus)

	assert.Equal(t, 1, env.drain(t))

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, photocore.DerivativeStatusReady, got.DerivativeStatus)
	require.NotNil(t, got.Metadata)
	assert.NotEmpty(t, got.Metadata.File["size"])
	assert.Nil(t, got.TakenAt)

	assert.ElementsMatch(t, []string{
		"photos/1/file/a.jpg",
		"photos/1/thumb/a.jpg",
		"photos/1/large/a.jpg",
	}, env.blobs.Keys())
}

func TestProcessUserPictureGeneratesThumb(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("users/u/picture/me.jpg", encodeJPEG(t, 800, 800))

	_, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{
		Username: "ansel",
		Picture:  "users/u/picture/me.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, env.drain(t))

	assert.ElementsMatch(t, []string{
		"users/u/picture/me.jpg",
		"users/u/thumb/me.jpg",
	}, env.blobs.Keys())
}

func TestReplaceCleansSupersededObjects(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/v1.jpg", encodeJPEG(t, 1200, 900))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/v1.jpg",
	})
	require.NoError(t, err)
	env.drain(t)

	env.blobs.PutBytes("photos/1/file/v2.jpg", encodeJPEG(t, 1200, 900))
	_, err = env.svc.ReplacePhotoFile(ctx, photocore.ReplacePhotoFileRequest{
		PhotoID: photo.ID,
		File:    "photos/1/file/v2.jpg",
	})
	require.NoError(t, err)
	env.drain(t)

	// Nothing derived from the old key survives the replace.
	assert.ElementsMatch(t, []string{
		"photos/1/file/v2.jpg",
		"photos/1/thumb/v2.jpg",
		"photos/1/large/v2.jpg",
	}, env.blobs.Keys())
}

func TestRefreshedJobDerivesLatestReference(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/v1.jpg", encodeJPEG(t, 1200, 900))
	env.blobs.PutBytes("photos/1/file/v2.jpg", encodeJPEG(t, 1200, 900))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/v1.jpg",
	})
	require.NoError(t, err)

	// Replace before the worker runs: the singleton job is refreshed, not
	// duplicated.
	_, err = env.svc.ReplacePhotoFile(ctx, photocore.ReplacePhotoFileRequest{
		PhotoID: photo.ID,
		File:    "photos/1/file/v2.jpg",
	})
	require.NoError(t, err)
	assert.Len(t, env.repo.PendingJobs(photocore.TopicAssets), 1)

	assert.Equal(t, 1, env.drain(t))

	assert.ElementsMatch(t, []string{
		"photos/1/file/v2.jpg",
		"photos/1/thumb/v2.jpg",
		"photos/1/large/v2.jpg",
	}, env.blobs.Keys())

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, photocore.DerivativeStatusReady, got.DerivativeStatus)
}

func TestDoubleReplaceCleansEveryStaleObject(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/v1.jpg", encodeJPEG(t, 1200, 900))
	env.blobs.PutBytes("photos/1/file/v2.jpg", encodeJPEG(t, 1200, 900))
	env.blobs.PutBytes("photos/1/file/v3.jpg", encodeJPEG(t, 1200, 900))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/v1.jpg",
	})
	require.NoError(t, err)
	env.drain(t)

	// Two replaces land before the worker claims the refreshed singleton
	// job; the first one's superseded key must still get cleaned.
	_, err = env.svc.ReplacePhotoFile(ctx, photocore.ReplacePhotoFileRequest{
		PhotoID: photo.ID,
		File:    "photos/1/file/v2.jpg",
	})
	require.NoError(t, err)
	_, err = env.svc.ReplacePhotoFile(ctx, photocore.ReplacePhotoFileRequest{
		PhotoID: photo.ID,
		File:    "photos/1/file/v3.jpg",
	})
	require.NoError(t, err)

	assert.Len(t, env.repo.PendingJobs(photocore.TopicAssets), 1)
	assert.Equal(t, 1, env.drain(t))

	assert.ElementsMatch(t, []string{
		"photos/1/file/v3.jpg",
		"photos/1/thumb/v3.jpg",
		"photos/1/large/v3.jpg",
	}, env.blobs.Keys())
}

func TestFailedGenerationSetsStatus(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/bad.jpg", []byte("not an image"))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/bad.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, env.drain(t))

	got, err := env.svc.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, photocore.DerivativeStatusFailed, got.DerivativeStatus)

	// The failure is terminal for this job; nothing stays queued.
	assert.Empty(t, env.repo.PendingJobs(photocore.TopicAssets))
}

func TestDeletePhotoRemovesAllObjects(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()
	env.blobs.PutBytes("photos/1/file/a.jpg", encodeJPEG(t, 1200, 900))

	owner, err := env.svc.CreateUser(ctx, photocore.CreateUserRequest{Username: "owner"})
	require.NoError(t, err)
	photo, err := env.svc.CreatePhoto(ctx, photocore.CreatePhotoRequest{
		UserID: owner.ID,
		File:   "photos/1/file/a.jpg",
	})
	require.NoError(t, err)
	env.drain(t)

	require.NoError(t, env.svc.DeletePhoto(ctx, photo.ID))
	env.drain(t)

	assert.Empty(t, env.blobs.Keys())
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	env := setupLifecycle(t)
	ctx := context.Background()

	require.NoError(t, env.repo.Enqueue(ctx, photocore.EnqueueJobParams{
		Topic:   photocore.TopicAssets,
		Key:     "garbage",
		Payload: []byte("{"),
		RunAt:   nowUTC(),
	}))

	ok, err := env.lifecycle.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, env.repo.PendingJobs(photocore.TopicAssets))
}

package photocore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/photoclub/photocore/pkg/photocore/assetkey"
)

// AssetLifecycle orchestrates derivative generation and metadata
// extraction whenever an owning record's asset reference changes.
//
// Changes are handed off through the persistent job store ("assets"
// topic, singleton per owner) rather than fired and forgotten, so the
// triggering request never blocks on image processing and failures are
// observable. The worker always re-derives from the owner's current
// asset reference at the time it runs; a derivative set produced for a
// superseded reference is simply discarded work.
type AssetLifecycle struct {
	repo         Repository
	jobs         JobStore
	blobs        BlobStore
	generator    *DerivativeGenerator
	extractor    *MetadataExtractor
	photoKeys    assetkey.Strategy
	userKeys     assetkey.Strategy
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
}

// LifecycleOption configures an AssetLifecycle.
type LifecycleOption func(*AssetLifecycle)

// WithLifecycleLogger sets the structured logger
func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(l *AssetLifecycle) {
		l.logger = logger
	}
}

// WithLifecycleClock overrides the time source, mainly for tests
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *AssetLifecycle) {
		l.now = now
	}
}

// WithLifecyclePollInterval sets how often the worker polls for due jobs
func WithLifecyclePollInterval(d time.Duration) LifecycleOption {
	return func(l *AssetLifecycle) {
		l.pollInterval = d
	}
}

// NewAssetLifecycle creates the coordinator over the given repository,
// job store and storage backend.
func NewAssetLifecycle(repo Repository, jobs JobStore, blobs BlobStore, options ...LifecycleOption) *AssetLifecycle {
	l := &AssetLifecycle{
		repo:         repo,
		jobs:         jobs,
		blobs:        blobs,
		photoKeys:    assetkey.PhotoProfile(),
		userKeys:     assetkey.PictureProfile(),
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: time.Second,
	}
	for _, option := range options {
		option(l)
	}
	l.generator = NewDerivativeGenerator(blobs, l.logger)
	l.extractor = NewMetadataExtractor(blobs, l.logger)
	return l
}

// assetJob is the persisted payload of an asset job. A refreshed
// singleton accumulates the previous keys of every change it coalesces;
// each one still needs cleanup even though only the current reference
// gets derived.
type assetJob struct {
	Owner        AssetRef `json:"owner"`
	PreviousKeys []string `json:"previous_keys,omitempty"`
	NewKey       string   `json:"new_key,omitempty"`
}

// NotifyAssetChanged persists the change as a singleton job keyed by the
// owning record. A second change to the same owner before the worker runs
// refreshes the pending job, folding in its not-yet-cleaned previous
// keys; the worker re-reads the current reference, so the latest change
// always wins.
func (l *AssetLifecycle) NotifyAssetChanged(ctx context.Context, change AssetChange) error {
	job := assetJob{Owner: change.Owner, NewKey: change.NewKey}
	if change.PreviousKey != "" {
		job.PreviousKeys = []string{change.PreviousKey}
	}

	key := fmt.Sprintf("%s:%s", change.Owner.Kind, change.Owner.ID)
	pending, err := l.jobs.PendingJob(ctx, TopicAssets, key)
	switch {
	case err == nil:
		var prior assetJob
		if uerr := json.Unmarshal(pending.Payload, &prior); uerr == nil {
			job.PreviousKeys = mergeKeys(prior.PreviousKeys, job.PreviousKeys)
		}
	case errors.Is(err, ErrJobNotFound):
	default:
		return fmt.Errorf("read pending asset job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal asset change: %w", err)
	}
	return l.jobs.Enqueue(ctx, EnqueueJobParams{
		Topic:   TopicAssets,
		Key:     key,
		Payload: payload,
		RunAt:   l.now().UTC(),
	})
}

// mergeKeys appends extra onto keys, skipping duplicates.
func mergeKeys(keys, extra []string) []string {
	for _, k := range extra {
		seen := false
		for _, existing := range keys {
			if existing == k {
				seen = true
				break
			}
		}
		if !seen {
			keys = append(keys, k)
		}
	}
	return keys
}

// Run polls for asset jobs until the context is cancelled.
func (l *AssetLifecycle) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				processed, err := l.ProcessOne(ctx)
				if err != nil {
					l.logger.Error("asset job failed", "error", err)
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and runs a single due asset job. It reports whether a
// job was processed. Generation failures are terminal for the claimed
// change (no automatic retry loop; a subsequent asset replace retries),
// so the job completes either way.
func (l *AssetLifecycle) ProcessOne(ctx context.Context) (bool, error) {
	job, err := l.jobs.ClaimDue(ctx, TopicAssets, l.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNoJobDue) {
			return false, nil
		}
		return false, err
	}

	var change assetJob
	if err := json.Unmarshal(job.Payload, &change); err != nil {
		// Unparseable payloads can never succeed; drop the job.
		l.logger.Error("dropping malformed asset job", "job_id", job.ID, "error", err)
		return true, l.jobs.Complete(ctx, job.ID)
	}

	l.process(ctx, change)
	return true, l.jobs.Complete(ctx, job.ID)
}

// process runs the cleanup-before-generate pipeline for one change.
func (l *AssetLifecycle) process(ctx context.Context, change assetJob) {
	strategy := l.strategyFor(change.Owner.Kind)
	if strategy == nil {
		l.logger.Error("unknown asset owner kind", "owner_kind", change.Owner.Kind)
		return
	}

	// Stale derivatives must never remain visible under a reused naming
	// scheme, so every superseded key is cleaned before generating. A
	// leaked derivative is less harmful than blocking the new upload, so
	// cleanup failures only log.
	for _, previous := range change.PreviousKeys {
		if err := l.generator.Cleanup(ctx, previous, strategy); err != nil {
			l.logger.Warn("derivative cleanup failed",
				"previous_key", previous, "error", err)
		}
	}

	// A concurrent replace may have superseded this change; whatever the
	// record references now is what gets derived.
	current, err := l.repo.CurrentAssetKey(ctx, change.Owner)
	if err != nil {
		if !errors.Is(err, ErrPhotoNotFound) && !errors.Is(err, ErrUserNotFound) {
			l.logger.Error("failed to read current asset key",
				"owner_id", change.Owner.ID, "error", err)
			return
		}
		// Owner deleted: treat as a cleared asset.
		current = ""
	}

	// Replaced primary objects go too, unless the record still references
	// one of them.
	for _, previous := range change.PreviousKeys {
		if previous == current {
			continue
		}
		if derr := l.blobs.Delete(ctx, previous); derr != nil {
			l.logger.Warn("primary object cleanup failed",
				"previous_key", previous, "error", derr)
		}
	}

	if current == "" {
		return
	}

	if _, err := l.generator.Generate(ctx, current, strategy); err != nil {
		l.logger.Error("derivative generation failed",
			"owner_kind", change.Owner.Kind, "owner_id", change.Owner.ID,
			"key", current, "error", err)
		if change.Owner.Kind == OwnerKindPhoto {
			if serr := l.repo.SetPhotoDerivativeStatus(ctx, change.Owner.ID, DerivativeStatusFailed); serr != nil {
				l.logger.Error("failed to record derivative status", "photo_id", change.Owner.ID, "error", serr)
			}
		}
		return
	}

	if change.Owner.Kind == OwnerKindPhoto {
		// A photo without metadata is still usable; extraction failures do
		// not roll back the generated derivatives.
		md, capturedAt, err := l.extractor.Extract(ctx, current)
		if err != nil {
			l.logger.Warn("metadata extraction failed",
				"photo_id", change.Owner.ID, "key", current, "error", err)
		} else if err := l.repo.SetPhotoMetadata(ctx, change.Owner.ID, md, capturedAt); err != nil {
			l.logger.Error("failed to persist metadata", "photo_id", change.Owner.ID, "error", err)
		}

		if err := l.repo.SetPhotoDerivativeStatus(ctx, change.Owner.ID, DerivativeStatusReady); err != nil {
			l.logger.Error("failed to record derivative status", "photo_id", change.Owner.ID, "error", err)
		}
	}
}

func (l *AssetLifecycle) strategyFor(kind OwnerKind) assetkey.Strategy {
	switch kind {
	case OwnerKindPhoto:
		return l.photoKeys
	case OwnerKindUser:
		return l.userKeys
	default:
		return nil
	}
}

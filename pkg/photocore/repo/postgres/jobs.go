package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/photoclub/photocore/pkg/photocore"
)

// JobStore operations.
//
// Singleton semantics lean on a partial unique index over (topic, key)
// for unclaimed rows: a concurrent enqueue lands on the conflict arm and
// refreshes the pending job instead of inserting a duplicate.

func (r *Repository) Enqueue(ctx context.Context, params photocore.EnqueueJobParams) error {
	query := `
		INSERT INTO jobs (id, topic, key, payload, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (topic, key) WHERE claimed_at IS NULL
		DO UPDATE SET
			payload = EXCLUDED.payload,
			run_at = GREATEST(jobs.run_at, EXCLUDED.run_at),
			updated_at = now()`

	_, err := r.db.Exec(ctx, query,
		uuid.New(), params.Topic, params.Key, params.Payload, params.RunAt)
	if err != nil {
		return handlePostgresError("enqueue job", err)
	}
	return nil
}

// PendingJob returns the unclaimed job for (topic, key).
func (r *Repository) PendingJob(ctx context.Context, topic, key string) (*photocore.Job, error) {
	query := `
		SELECT id, topic, key, payload, run_at, claimed_at, created_at, updated_at
		FROM jobs
		WHERE topic = $1 AND key = $2 AND claimed_at IS NULL`

	var job photocore.Job
	err := r.db.QueryRow(ctx, query, topic, key).Scan(
		&job.ID, &job.Topic, &job.Key, &job.Payload, &job.RunAt,
		&job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrJobNotFound
		}
		return nil, handlePostgresError("get pending job", err)
	}
	return &job, nil
}

// ClaimDue claims the oldest due unclaimed job on the topic. SKIP LOCKED
// keeps concurrent workers from blocking on each other's claims.
func (r *Repository) ClaimDue(ctx context.Context, topic string, now time.Time) (*photocore.Job, error) {
	query := `
		UPDATE jobs SET claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE topic = $1 AND claimed_at IS NULL AND run_at <= $2
			ORDER BY run_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, key, payload, run_at, claimed_at, created_at, updated_at`

	var job photocore.Job
	err := r.db.QueryRow(ctx, query, topic, now).Scan(
		&job.ID, &job.Topic, &job.Key, &job.Payload, &job.RunAt,
		&job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrNoJobDue
		}
		return nil, handlePostgresError("claim job", err)
	}
	return &job, nil
}

func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrJobNotFound
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, id uuid.UUID, runAt time.Time) error {
	query := `
		UPDATE jobs SET claimed_at = NULL, run_at = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, runAt)
	if err != nil {
		return handlePostgresError("release job", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrJobNotFound
	}
	return nil
}

func (r *Repository) Watermark(ctx context.Context, topic string) (time.Time, error) {
	var mark time.Time
	err := r.db.QueryRow(ctx,
		`SELECT mark FROM watermarks WHERE topic = $1`, topic).Scan(&mark)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, handlePostgresError("get watermark", err)
	}
	return mark, nil
}

func (r *Repository) SetWatermark(ctx context.Context, topic string, mark time.Time) error {
	query := `
		INSERT INTO watermarks (topic, mark) VALUES ($1, $2)
		ON CONFLICT (topic) DO UPDATE SET mark = EXCLUDED.mark`

	_, err := r.db.Exec(ctx, query, topic, mark)
	if err != nil {
		return handlePostgresError("set watermark", err)
	}
	return nil
}

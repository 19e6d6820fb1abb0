package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/photoclub/photocore/pkg/photocore"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements photocore.Repository and photocore.JobStore using
// PostgreSQL.
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool // nil when the repository is bound to a transaction
}

// New creates a new PostgreSQL repository over a connection or transaction.
// A repository created this way cannot open its own transactions; InTx
// runs the function against the given handle directly.
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// InTx runs fn in a database transaction. A nested call reuses the
// surrounding transaction instead of opening a second one.
func (r *Repository) InTx(ctx context.Context, fn func(photocore.Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// handlePostgresError maps low-level pgx errors onto domain errors
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &photocore.ConcurrencyConflict{Op: operation, Err: err}
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found: %w", operation, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// User operations

func (r *Repository) CreateUser(ctx context.Context, user *photocore.User) error {
	query := `
		INSERT INTO users (id, username, picture, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.Username, user.Picture, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return handlePostgresError("create user", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*photocore.User, error) {
	query := `
		SELECT id, username, picture, created_at, updated_at
		FROM users WHERE id = $1`

	var user photocore.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Picture, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrUserNotFound
		}
		return nil, handlePostgresError("get user", err)
	}
	return &user, nil
}

func (r *Repository) UpdateUser(ctx context.Context, user *photocore.User) error {
	query := `
		UPDATE users SET username = $2, picture = $3, updated_at = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		user.ID, user.Username, user.Picture, user.UpdatedAt)
	if err != nil {
		return handlePostgresError("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrUserNotFound
	}
	return nil
}

// Photo operations

func (r *Repository) CreatePhoto(ctx context.Context, photo *photocore.Photo) error {
	metadata, err := marshalMetadata(photo.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO photos (
			id, user_id, filename, file, caption, description,
			metadata, taken_at, rating, derivative_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		photo.ID, photo.UserID, photo.Filename, photo.File,
		photo.Caption, photo.Description, metadata, photo.TakenAt,
		photo.Rating, string(photo.DerivativeStatus), photo.CreatedAt, photo.UpdatedAt)
	if err != nil {
		return handlePostgresError("create photo", err)
	}
	return nil
}

func (r *Repository) GetPhoto(ctx context.Context, id uuid.UUID) (*photocore.Photo, error) {
	query := `
		SELECT id, user_id, filename, file, caption, description,
		       metadata, taken_at, rating, derivative_status, created_at, updated_at
		FROM photos WHERE id = $1`

	return scanPhoto(r.db.QueryRow(ctx, query, id))
}

func scanPhoto(row pgx.Row) (*photocore.Photo, error) {
	var photo photocore.Photo
	var metadata []byte
	var status string
	err := row.Scan(
		&photo.ID, &photo.UserID, &photo.Filename, &photo.File,
		&photo.Caption, &photo.Description, &metadata, &photo.TakenAt,
		&photo.Rating, &status, &photo.CreatedAt, &photo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrPhotoNotFound
		}
		return nil, handlePostgresError("get photo", err)
	}
	photo.DerivativeStatus = photocore.DerivativeStatus(status)
	if photo.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &photo, nil
}

func (r *Repository) UpdatePhoto(ctx context.Context, photo *photocore.Photo) error {
	metadata, err := marshalMetadata(photo.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE photos SET
			user_id = $2, filename = $3, file = $4, caption = $5,
			description = $6, metadata = $7, taken_at = $8, rating = $9,
			derivative_status = $10, updated_at = $11
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		photo.ID, photo.UserID, photo.Filename, photo.File,
		photo.Caption, photo.Description, metadata, photo.TakenAt,
		photo.Rating, string(photo.DerivativeStatus), photo.UpdatedAt)
	if err != nil {
		return handlePostgresError("update photo", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrPhotoNotFound
	}
	return nil
}

func (r *Repository) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete photo", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrPhotoNotFound
	}
	return nil
}

func (r *Repository) SetPhotoMetadata(ctx context.Context, id uuid.UUID, md *photocore.Metadata, takenAt *time.Time) error {
	metadata, err := marshalMetadata(md)
	if err != nil {
		return err
	}

	query := `
		UPDATE photos SET metadata = $2, taken_at = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, metadata, takenAt)
	if err != nil {
		return handlePostgresError("set photo metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrPhotoNotFound
	}
	return nil
}

func (r *Repository) SetPhotoRating(ctx context.Context, id uuid.UUID, rating float64) error {
	query := `UPDATE photos SET rating = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, rating)
	if err != nil {
		return handlePostgresError("set photo rating", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrPhotoNotFound
	}
	return nil
}

func (r *Repository) SetPhotoDerivativeStatus(ctx context.Context, id uuid.UUID, status photocore.DerivativeStatus) error {
	query := `UPDATE photos SET derivative_status = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return handlePostgresError("set derivative status", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrPhotoNotFound
	}
	return nil
}

func (r *Repository) CurrentAssetKey(ctx context.Context, owner photocore.AssetRef) (string, error) {
	var query string
	var notFound error
	switch owner.Kind {
	case photocore.OwnerKindPhoto:
		query = `SELECT file FROM photos WHERE id = $1`
		notFound = photocore.ErrPhotoNotFound
	case photocore.OwnerKindUser:
		query = `SELECT picture FROM users WHERE id = $1`
		notFound = photocore.ErrUserNotFound
	default:
		return "", fmt.Errorf("unknown asset owner kind %q", owner.Kind)
	}

	var key string
	if err := r.db.QueryRow(ctx, query, owner.ID).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", notFound
		}
		return "", handlePostgresError("current asset key", err)
	}
	return key, nil
}

// Rating operations

func (r *Repository) GetRating(ctx context.Context, photoID, userID uuid.UUID) (*photocore.Rating, error) {
	query := `
		SELECT id, photo_id, user_id, value, created_at, updated_at
		FROM ratings WHERE photo_id = $1 AND user_id = $2`

	var rating photocore.Rating
	err := r.db.QueryRow(ctx, query, photoID, userID).Scan(
		&rating.ID, &rating.PhotoID, &rating.UserID, &rating.Value,
		&rating.CreatedAt, &rating.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrRatingNotFound
		}
		return nil, handlePostgresError("get rating", err)
	}
	return &rating, nil
}

func (r *Repository) SaveRating(ctx context.Context, rating *photocore.Rating) error {
	query := `
		INSERT INTO ratings (id, photo_id, user_id, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (photo_id, user_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		rating.ID, rating.PhotoID, rating.UserID, rating.Value,
		rating.CreatedAt, rating.UpdatedAt)
	if err != nil {
		return handlePostgresError("save rating", err)
	}
	return nil
}

func (r *Repository) DeleteRating(ctx context.Context, photoID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM ratings WHERE photo_id = $1 AND user_id = $2`, photoID, userID)
	if err != nil {
		return handlePostgresError("delete rating", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrRatingNotFound
	}
	return nil
}

func (r *Repository) ListPhotoRatings(ctx context.Context, photoID uuid.UUID) ([]*photocore.Rating, error) {
	query := `
		SELECT id, photo_id, user_id, value, created_at, updated_at
		FROM ratings WHERE photo_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, photoID)
	if err != nil {
		return nil, handlePostgresError("list ratings", err)
	}
	defer rows.Close()

	var ratings []*photocore.Rating
	for rows.Next() {
		var rating photocore.Rating
		if err := rows.Scan(
			&rating.ID, &rating.PhotoID, &rating.UserID, &rating.Value,
			&rating.CreatedAt, &rating.UpdatedAt); err != nil {
			return nil, handlePostgresError("list ratings", err)
		}
		ratings = append(ratings, &rating)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list ratings", err)
	}
	return ratings, nil
}

// Feature operations

func (r *Repository) GetFeatureByPhoto(ctx context.Context, photoID uuid.UUID) (*photocore.Feature, error) {
	query := `
		SELECT id, user_id, photo_id, year, position, created_at, updated_at
		FROM features WHERE photo_id = $1`

	var feature photocore.Feature
	err := r.db.QueryRow(ctx, query, photoID).Scan(
		&feature.ID, &feature.UserID, &feature.PhotoID, &feature.Year,
		&feature.Position, &feature.CreatedAt, &feature.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrFeatureNotFound
		}
		return nil, handlePostgresError("get feature", err)
	}
	return &feature, nil
}

func (r *Repository) ListFeatures(ctx context.Context, userID uuid.UUID, year int, opts photocore.FeatureListOptions) ([]*photocore.Feature, error) {
	query := `
		SELECT id, user_id, photo_id, year, position, created_at, updated_at
		FROM features WHERE user_id = $1 AND year = $2
		ORDER BY position, updated_at`
	if opts.UpdatedAtDesc {
		query += ` DESC`
	}
	if opts.Lock {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.Query(ctx, query, userID, year)
	if err != nil {
		return nil, handlePostgresError("list features", err)
	}
	defer rows.Close()

	var features []*photocore.Feature
	for rows.Next() {
		var feature photocore.Feature
		if err := rows.Scan(
			&feature.ID, &feature.UserID, &feature.PhotoID, &feature.Year,
			&feature.Position, &feature.CreatedAt, &feature.UpdatedAt); err != nil {
			return nil, handlePostgresError("list features", err)
		}
		features = append(features, &feature)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list features", err)
	}
	return features, nil
}

func (r *Repository) CreateFeature(ctx context.Context, feature *photocore.Feature) error {
	query := `
		INSERT INTO features (id, user_id, photo_id, year, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		feature.ID, feature.UserID, feature.PhotoID, feature.Year,
		feature.Position, feature.CreatedAt, feature.UpdatedAt)
	if err != nil {
		return handlePostgresError("create feature", err)
	}
	return nil
}

func (r *Repository) UpdateFeature(ctx context.Context, feature *photocore.Feature) error {
	query := `
		UPDATE features SET
			user_id = $2, photo_id = $3, year = $4, position = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		feature.ID, feature.UserID, feature.PhotoID, feature.Year,
		feature.Position, feature.UpdatedAt)
	if err != nil {
		return handlePostgresError("update feature", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrFeatureNotFound
	}
	return nil
}

func (r *Repository) DeleteFeature(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM features WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete feature", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrFeatureNotFound
	}
	return nil
}

// Comment operations

func (r *Repository) CreateComment(ctx context.Context, comment *photocore.Comment) error {
	query := `
		INSERT INTO comments (id, photo_id, user_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		comment.ID, comment.PhotoID, comment.UserID, comment.Body,
		comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return handlePostgresError("create comment", err)
	}
	return nil
}

func (r *Repository) GetComment(ctx context.Context, id uuid.UUID) (*photocore.Comment, error) {
	query := `
		SELECT id, photo_id, user_id, body, created_at, updated_at
		FROM comments WHERE id = $1`

	var comment photocore.Comment
	err := r.db.QueryRow(ctx, query, id).Scan(
		&comment.ID, &comment.PhotoID, &comment.UserID, &comment.Body,
		&comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, photocore.ErrCommentNotFound
		}
		return nil, handlePostgresError("get comment", err)
	}
	return &comment, nil
}

func (r *Repository) DeleteComment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete comment", err)
	}
	if tag.RowsAffected() == 0 {
		return photocore.ErrCommentNotFound
	}
	return nil
}

func (r *Repository) DeletePhotoComments(ctx context.Context, photoID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM comments WHERE photo_id = $1`, photoID)
	if err != nil {
		return handlePostgresError("delete photo comments", err)
	}
	return nil
}

func (r *Repository) ListCommentsSince(ctx context.Context, since time.Time) ([]*photocore.Comment, error) {
	query := `
		SELECT id, photo_id, user_id, body, created_at, updated_at
		FROM comments WHERE created_at > $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, handlePostgresError("list comments", err)
	}
	defer rows.Close()

	var comments []*photocore.Comment
	for rows.Next() {
		var comment photocore.Comment
		if err := rows.Scan(
			&comment.ID, &comment.PhotoID, &comment.UserID, &comment.Body,
			&comment.CreatedAt, &comment.UpdatedAt); err != nil {
			return nil, handlePostgresError("list comments", err)
		}
		comments = append(comments, &comment)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list comments", err)
	}
	return comments, nil
}

// Metadata documents travel as jsonb; a nil document is a NULL column.

func marshalMetadata(md *photocore.Metadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (*photocore.Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var md photocore.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &md, nil
}

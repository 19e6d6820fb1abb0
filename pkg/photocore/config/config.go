// Package config loads service configuration from the environment and
// assembles the runtime: repository, storage backend, service, and the
// background workers.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/photoclub/photocore/migrations"
	"github.com/photoclub/photocore/pkg/photocore"
	repomemory "github.com/photoclub/photocore/pkg/photocore/repo/memory"
	repopg "github.com/photoclub/photocore/pkg/photocore/repo/postgres"
	fsstorage "github.com/photoclub/photocore/pkg/photocore/storage/fs"
	memorystorage "github.com/photoclub/photocore/pkg/photocore/storage/memory"
	s3storage "github.com/photoclub/photocore/pkg/photocore/storage/s3"
)

// ServerConfig represents configuration for the photocore service
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// Database configuration
	DatabaseType string `env:"DATABASE_TYPE" env-default:"memory"` // "memory", "postgres"
	DatabaseURL  string `env:"DATABASE_URL"`

	// Storage configuration
	StorageBackend string `env:"STORAGE_BACKEND" env-default:"memory"` // "memory", "fs", "s3"

	FSBaseDir   string `env:"FS_BASE_DIR" env-default:"./data/assets"`
	FSURLPrefix string `env:"FS_URL_PREFIX"`

	S3Region          string `env:"S3_REGION"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	S3URLPrefix       string `env:"S3_URL_PREFIX"`
	S3CreateBucket    bool   `env:"S3_CREATE_BUCKET" env-default:"false"`

	// Worker configuration
	CommentQuietPeriod time.Duration `env:"COMMENT_QUIET_PERIOD" env-default:"5m"`
	JobPollInterval    time.Duration `env:"JOB_POLL_INTERVAL" env-default:"1s"`
}

// Option applies configuration on top of the environment.
type Option func(*ServerConfig) error

// WithDatabase overrides the database settings
func WithDatabase(databaseType, databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = databaseType
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithStorageBackend overrides the storage backend selection
func WithStorageBackend(name string) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = name
		return nil
	}
}

// Load reads configuration from the environment and applies the supplied
// options on top.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.StorageBackend {
	case "memory", "fs":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("s3_bucket is required when using s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	// The in-memory job queue lives inside the in-memory repository, so
	// the two must be paired.
	if c.DatabaseType == "memory" && c.StorageBackend == "s3" && c.Environment == "production" {
		return errors.New("memory database cannot back a production s3 deployment")
	}

	return nil
}

// Runtime bundles the assembled components for a worker process.
type Runtime struct {
	Config    *ServerConfig
	Pool      *pgxpool.Pool // nil for the memory database
	Repo      photocore.Repository
	Jobs      photocore.JobStore
	Blobs     photocore.BlobStore
	Service   photocore.Service
	Lifecycle *photocore.AssetLifecycle
	Scheduler *photocore.Scheduler
}

// BuildRuntime migrates the database, connects the configured backends,
// and wires the service with its background workers. The handler receives
// the debounced comment batches.
func (c *ServerConfig) BuildRuntime(ctx context.Context, handler photocore.CommentBatchHandler, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Config: c}

	switch c.DatabaseType {
	case "postgres":
		if err := migrations.Up(c.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo := repopg.NewWithPool(pool)
		rt.Pool = pool
		rt.Repo = repo
		rt.Jobs = repo
	default:
		repo := repomemory.New()
		rt.Repo = repo
		rt.Jobs = repo
	}

	blobs, err := c.buildStorageBackend()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build storage backend: %w", err)
	}
	rt.Blobs = blobs

	rt.Lifecycle = photocore.NewAssetLifecycle(rt.Repo, rt.Jobs, blobs,
		photocore.WithLifecycleLogger(logger),
		photocore.WithLifecyclePollInterval(c.JobPollInterval),
	)
	rt.Scheduler = photocore.NewScheduler(rt.Repo, rt.Jobs, handler,
		photocore.WithQuietPeriod(c.CommentQuietPeriod),
		photocore.WithSchedulerLogger(logger),
		photocore.WithSchedulerPollInterval(c.JobPollInterval),
	)

	svc, err := photocore.New(
		photocore.WithRepository(rt.Repo),
		photocore.WithBlobStore(blobs),
		photocore.WithAssetNotifier(rt.Lifecycle),
		photocore.WithCommentNotifier(rt.Scheduler),
		photocore.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build service: %w", err)
	}
	rt.Service = svc

	return rt, nil
}

func (c *ServerConfig) buildStorageBackend() (photocore.BlobStore, error) {
	switch c.StorageBackend {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   c.FSBaseDir,
			URLPrefix: c.FSURLPrefix,
		})
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3Region,
			Bucket:                 c.S3Bucket,
			AccessKeyID:            c.S3AccessKeyID,
			SecretAccessKey:        c.S3SecretAccessKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			URLPrefix:              c.S3URLPrefix,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

// Close releases the runtime's resources.
func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

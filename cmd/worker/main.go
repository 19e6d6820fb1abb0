// The worker process runs the derived-state pipeline: the asset
// lifecycle worker (derivative generation and metadata extraction) and
// the comment notification scheduler, plus a small health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"github.com/photoclub/photocore/pkg/photocore"
	"github.com/photoclub/photocore/pkg/photocore/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	rt, err := cfg.BuildRuntime(ctx, commentDigestHandler(logger), logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	logger.Info("worker starting",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"database", cfg.DatabaseType,
		"storage", cfg.StorageBackend)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: routes(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.Lifecycle.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := rt.Scheduler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// commentDigestHandler is the default comment batch sink: it records the
// coalesced batch. Deployments wanting mail or push delivery swap this
// for their own handler.
func commentDigestHandler(logger *slog.Logger) photocore.CommentBatchHandler {
	return func(ctx context.Context, comments []*photocore.Comment) error {
		photos := make(map[string]int)
		for _, c := range comments {
			photos[c.PhotoID.String()]++
		}
		logger.Info("comment digest",
			"comments", len(comments),
			"photos", len(photos))
		return nil
	}
}

func routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})

	return r
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-finder/internal/audit"
	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/observability"
	"github.com/kozaktomas/face-finder/internal/scheduler"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/similarity/local"
	"github.com/kozaktomas/face-finder/internal/similarity/remote"
	"github.com/kozaktomas/face-finder/internal/store"
	"github.com/kozaktomas/face-finder/internal/store/memory"
	"github.com/kozaktomas/face-finder/internal/store/postgres"
)

// app holds the wired engine shared by all commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool   *postgres.Pool // nil when running on in-memory stores
	faces  store.FaceStore
	photos store.PhotoStore
	index  similarity.Index

	searcher   *match.Searcher
	reconciler *match.Reconciler
	auditor    *audit.Auditor
	scheduler  *scheduler.Scheduler

	faceIndexer  *indexer.FaceIndexer
	photoIndexer *indexer.PhotoIndexer
}

// newApp loads configuration and wires the engine. DATABASE_URL selects the
// PostgreSQL stores; without it everything runs in memory, which is only
// useful for local experiments.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()

	a := &app{cfg: cfg, logger: logger}

	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		a.pool = pool
		a.faces = postgres.NewFaceRepository(pool)
		a.photos = postgres.NewPhotoRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.faces = memory.NewFaceStore()
		a.photos = memory.NewPhotoStore()
	}

	index, err := a.buildIndex(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = index

	photoCache := cache.NewPhotos(cfg.Match.CacheSize, cfg.Match.CacheTTL)
	a.searcher = match.NewSearcher(a.index, a.photos, photoCache, logger)
	a.reconciler = match.NewReconciler(a.faces, a.photos, photoCache, match.ReconcilerConfig{
		Cap:              cfg.Match.Cap,
		PhotoConcurrency: cfg.Match.PhotoConcurrency,
	}, logger)
	a.auditor = audit.NewAuditor(a.faces, a.index, a.searcher, a.reconciler, audit.Config{
		PageSize:         cfg.Audit.PageSize,
		UserDelay:        cfg.Audit.UserDelay,
		SearchThreshold:  cfg.Match.SearchThreshold,
		SearchMaxResults: cfg.Match.SearchMaxResults,
		Threshold:        cfg.Match.Thresholds.Audit,
		Gate:             audit.NewInflightGate(),
	}, logger)
	a.scheduler = scheduler.New(a.auditor, logger)

	a.faceIndexer = indexer.NewFaceIndexer(a.index, a.faces, logger)
	a.photoIndexer = indexer.NewPhotoIndexer(a.index, a.photos, a.searcher, a.reconciler,
		cfg.Match.SearchThreshold, cfg.Match.Thresholds.Upload, cfg.Match.SearchMaxResults, logger)

	return a, nil
}

// buildIndex selects the similarity index backend from configuration.
func (a *app) buildIndex(ctx context.Context) (similarity.Index, error) {
	switch a.cfg.Index.Kind {
	case "remote":
		idx, err := remote.NewIndex(a.cfg.Index.URL, a.cfg.Index.APIKey)
		if err != nil {
			return nil, fmt.Errorf("configure remote index: %w", err)
		}
		return idx, nil

	case "local", "memory":
		extractor := local.NewHTTPExtractor(a.cfg.Index.ExtractorURL)

		var persist local.DescriptorStore
		if a.cfg.Index.Kind == "local" && a.cfg.Database.URL != "" {
			pg, err := local.NewPgDescriptorStore(ctx, a.cfg.Database.URL, a.cfg.Index.Dim)
			if err != nil {
				return nil, fmt.Errorf("open descriptor store: %w", err)
			}
			persist = pg
		}

		idx := local.NewIndex(extractor, persist)
		if persist != nil {
			if err := idx.Load(ctx); err != nil {
				return nil, fmt.Errorf("load descriptors: %w", err)
			}
			a.logger.Info("similarity graph loaded", "descriptors", idx.Count())
		}
		return idx, nil

	default:
		return nil, fmt.Errorf("unknown INDEX_KIND %q (want remote, local or memory)", a.cfg.Index.Kind)
	}
}

// Close releases the app's connections.
func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("closing database pool", "error", err)
		}
	}
}

// Package app is the composition root: it builds the store, the embedder
// chain, the repositories and the use case services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/config"
	"github.com/kailas-cloud/catalogsearch/internal/db"
	dbRedis "github.com/kailas-cloud/catalogsearch/internal/db/redis"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	"github.com/kailas-cloud/catalogsearch/internal/metrics"
	"github.com/kailas-cloud/catalogsearch/internal/repository/embcache"
	"github.com/kailas-cloud/catalogsearch/internal/repository/semcache"
	vectorrepo "github.com/kailas-cloud/catalogsearch/internal/repository/vector"
	chiTransport "github.com/kailas-cloud/catalogsearch/internal/transport/chi"
	"github.com/kailas-cloud/catalogsearch/internal/transport/langcache"
	openaiTransport "github.com/kailas-cloud/catalogsearch/internal/transport/openai"
	cacheuc "github.com/kailas-cloud/catalogsearch/internal/usecase/cache"
	embeddinguc "github.com/kailas-cloud/catalogsearch/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/catalogsearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/catalogsearch/internal/usecase/index"
	ingestuc "github.com/kailas-cloud/catalogsearch/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/catalogsearch/internal/usecase/search"
)

const providerName = "openai"

// App holds the wired services.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  *dbRedis.Store

	Vectors *vectorrepo.Repo
	Gateway *embeddinguc.Gateway
	Ingest  *ingestuc.Service
	Search  *searchuc.Service
	Index   *indexuc.Service
	Cache   *cacheuc.Service
	Health  *healthuc.Service
}

// New connects to the store, ensures the indexes exist and builds every service.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterServiceMetrics()
	metrics.RegisterHTTPMetrics()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
	}

	a := &App{cfg: cfg, logger: logger, store: store}
	if err := a.build(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
	if err := a.store.WaitForReady(ctx, readiness); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	a.logger.Info("Connected to database",
		zap.String("driver", cfg.Database.Driver),
		zap.Strings("addrs", cfg.Database.Addrs),
	)

	distance, err := db.ParseDistance(cfg.Index.Distance)
	if err != nil {
		return fmt.Errorf("index distance: %w", err)
	}
	algo, err := db.ParseAlgorithm(cfg.Index.Algorithm)
	if err != nil {
		return fmt.Errorf("index algorithm: %w", err)
	}

	// Embedder chain: provider → embedding cache → instrumentation → gateway.
	embCfg := cfg.Embedding
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     embCfg.APIKey,
		BaseURL:    embCfg.BaseURL,
		Model:      embCfg.Model,
		Dimensions: embCfg.Dimensions,
		Provider:   providerName,
		Logger:     a.logger,
	})
	cached := embcache.New(base, a.store, embcache.Options{
		KeyPrefix: cfg.Storage.KeyPrefix,
		TTL:       time.Duration(embCfg.CacheTTLSec) * time.Second,
	}, metrics.EmbeddingCacheTotal, a.logger)
	instrumented := embeddinguc.NewInstrumentedEmbedder(cached, providerName, embCfg.Model, a.logger)
	a.Gateway = embeddinguc.NewGateway(instrumented, embCfg.Dimensions, embCfg.BatchConcurrency)
	a.logger.Info("Embedder created",
		zap.String("model", embCfg.Model),
		zap.Int("dimensions", embCfg.Dimensions),
	)

	a.Vectors = vectorrepo.New(a.store, vectorrepo.Config{
		KeyPrefix:   cfg.Storage.KeyPrefix,
		IndexName:   cfg.Storage.KeyPrefix + cfg.Index.Name,
		Dimensions:  embCfg.Dimensions,
		Distance:    distance,
		Algorithm:   algo,
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := a.Vectors.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure vector index: %w", err)
	}

	backend, err := a.cacheBackend(ctx, instrumented, distance)
	if err != nil {
		return err
	}
	a.Cache = cacheuc.New(backend, cacheuc.Config{
		Driver:    cfg.Cache.Driver,
		Threshold: cfg.Cache.SimilarityThreshold,
		TTL:       time.Duration(cfg.Cache.TTLSec) * time.Second,
	}, a.logger)

	a.Ingest, err = ingestuc.New(a.Gateway, a.Vectors, ingestuc.Config{
		Workers:         cfg.Ingest.Workers,
		BatchSize:       cfg.Ingest.BatchSize,
		QueueSize:       cfg.Ingest.QueueSize,
		MaxJobs:         cfg.Ingest.MaxJobs,
		MaxBatchRecords: cfg.Ingest.MaxBatchRecords,
		EmbedChunk:      cfg.Ingest.EmbedChunk,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create ingest service: %w", err)
	}

	// nil interfaces, not typed nil pointers, when cache or rewrite are off
	var searchCache searchuc.Cache
	if a.Cache.Enabled() {
		searchCache = a.Cache
	}
	var rewriter searchuc.Rewriter
	if cfg.Search.Rewrite.Enabled {
		rewriter = openaiTransport.NewRewriter(&openaiTransport.Config{
			APIKey:   embCfg.APIKey,
			BaseURL:  embCfg.BaseURL,
			Model:    cfg.Search.Rewrite.Model,
			Provider: providerName,
			Logger:   a.logger,
		})
	}
	a.Search = searchuc.New(a.Gateway, a.Vectors, searchCache, rewriter, searchuc.Config{
		MaxResults:        cfg.Search.MaxResults,
		CacheWriteTimeout: time.Duration(cfg.Cache.WriteTimeoutSec) * time.Second,
	}, a.logger)

	a.Index = indexuc.New(a.Vectors, a.logger)
	a.Health = healthuc.New(a.store, healthuc.WithCheck("embedding", instrumented))

	a.logger.Info("Services ready",
		zap.String("cache_driver", a.Cache.Driver()),
		zap.Bool("rewrite", rewriter != nil),
		zap.Int("ingest_workers", cfg.Ingest.Workers),
	)
	return nil
}

// cacheBackend picks the semantic cache backend. The redis backend shares
// the store and embeds prompts through the same embedder chain.
func (a *App) cacheBackend(
	ctx context.Context, embedder *embeddinguc.InstrumentedEmbedder, distance db.DistanceMetric,
) (cacheuc.Backend, error) {
	switch a.cfg.Cache.Driver {
	case config.CacheLangCache:
		return langcache.NewClient(langcache.Config{
			ServerURL: a.cfg.Cache.ServerURL,
			CacheID:   a.cfg.Cache.CacheID,
			APIKey:    a.cfg.Cache.APIKey,
		}), nil
	case config.CacheRedis:
		sc := semcache.New(a.store, embedder, semcache.Config{
			KeyPrefix:  a.cfg.Storage.KeyPrefix,
			Dimensions: a.cfg.Embedding.Dimensions,
			Distance:   distance,
		})
		if err := sc.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure semantic cache index: %w", err)
		}
		return sc, nil
	default:
		return nil, nil
	}
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	srv := chiTransport.NewServer(a.Ingest, a.Search, a.Index, a.Cache, a.Health, chiTransport.Options{
		Limits: request.Limits{
			DefaultTopK: a.cfg.Search.DefaultTopK,
			MaxTopK:     a.cfg.Search.MaxTopK,
		},
		APIKeys: a.cfg.Auth.APIKeys,
	}, a.logger)
	return srv.Router()
}

// Limits returns the configured search limits.
func (a *App) Limits() request.Limits {
	return request.Limits{DefaultTopK: a.cfg.Search.DefaultTopK, MaxTopK: a.cfg.Search.MaxTopK}
}

// Close releases the services in dependency order: running ingest jobs,
// pending cache writes, then the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	timeout := time.Duration(a.cfg.HTTP.ShutdownSec) * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if a.Ingest != nil {
		if err := a.Ingest.Close(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Search != nil {
		if err := a.Search.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.store.Close()
	return errors.Join(errs...)
}

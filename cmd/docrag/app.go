package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/chunker"
	"github.com/kailas-cloud/docrag/internal/config"
	dbRedis "github.com/kailas-cloud/docrag/internal/db/redis"
	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/extract"
	logpkg "github.com/kailas-cloud/docrag/internal/logger"
	"github.com/kailas-cloud/docrag/internal/metrics"
	"github.com/kailas-cloud/docrag/internal/repository/blob"
	"github.com/kailas-cloud/docrag/internal/repository/chunkindex"
	"github.com/kailas-cloud/docrag/internal/repository/embcache"
	"github.com/kailas-cloud/docrag/internal/repository/metadata"
	"github.com/kailas-cloud/docrag/internal/repository/milvusindex"
	openaiEmb "github.com/kailas-cloud/docrag/internal/transport/openai"
	conversationuc "github.com/kailas-cloud/docrag/internal/usecase/conversation"
	embeddinguc "github.com/kailas-cloud/docrag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/docrag/internal/usecase/health"
	"github.com/kailas-cloud/docrag/internal/usecase/ingest"
	"github.com/kailas-cloud/docrag/internal/usecase/reconcile"
	"github.com/kailas-cloud/docrag/internal/usecase/retrieval"
)

type blobStore interface {
	ingest.BlobStore
	EnsureBucket(ctx context.Context) error
	Ping(ctx context.Context) error
}

type vectorIndex interface {
	ingest.VectorIndex
	retrieval.VectorIndex
	EnsureClass(ctx context.Context, class string) error
}

// app is the composition root shared by every subcommand.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger

	meta       *metadata.Store
	blobs      blobStore
	vectors    vectorIndex
	vectorPing healthuc.Pinger

	// lister is nil for backends that cannot enumerate entries
	lister  reconcile.EntryLister
	queries domain.Embedder
	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level, logpkg.FileConfig{
		Path:       cfg.Logging.File.Path,
		MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
		MaxBackups: cfg.Logging.File.MaxBackups,
		MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		Compress:   cfg.Logging.File.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	metrics.Register()

	a := &app{env: env, cfg: cfg, logger: logger}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg

	meta, err := metadata.Open(metadata.Config{
		Driver:          cfg.Metadata.Driver,
		DSN:             cfg.Metadata.DSN,
		MaxOpenConns:    cfg.Metadata.MaxOpenConns,
		MaxIdleConns:    cfg.Metadata.MaxIdleConns,
		ConnMaxLifetime: config.Seconds(cfg.Metadata.ConnMaxLifetimeSec),
		LogLevel:        cfg.Metadata.LogLevel,
		SlowThreshold:   config.Millis(cfg.Metadata.SlowThresholdMs),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	a.meta = meta
	a.closers = append(a.closers, func() { _ = meta.Close() })

	blobs, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	a.blobs = blobs

	return a.connectVector(ctx)
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (blobStore, error) {
	switch cfg.Backend {
	case config.BlobS3:
		s, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PathStyle: cfg.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 blob store: %w", err)
		}
		return s, nil
	default:
		m, err := blob.NewMinIO(blob.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio blob store: %w", err)
		}
		return m, nil
	}
}

func (a *app) connectVector(ctx context.Context) error {
	cfg := a.cfg
	provName, provCfg, vecCfg := cfg.ActiveVectorizer()

	base := openaiEmb.NewEmbedder(openaiEmb.Config{
		APIKey:        provCfg.APIKey,
		BaseURL:       provCfg.BaseURL,
		Model:         vecCfg.Model,
		Dimensions:    vecCfg.Dimensions,
		Provider:      provName,
		Timeout:       config.Seconds(provCfg.TimeoutSec),
		MaxInputChars: vecCfg.MaxInputChars,
	}, a.logger)

	switch cfg.Vector.Backend {
	case config.VectorMilvus:
		docs := a.buildEmbedder(base, nil, provName, vecCfg, vecCfg.DocumentInstruction)
		a.queries = a.buildEmbedder(base, nil, provName, vecCfg, vecCfg.QueryInstruction)

		ix, err := milvusindex.New(milvusindex.Config{
			Address:  cfg.Vector.Milvus.Address,
			Username: cfg.Vector.Milvus.Username,
			Password: cfg.Vector.Milvus.Password,
			Database: cfg.Vector.Milvus.Database,
			Timeout:  config.Seconds(cfg.Vector.Milvus.TimeoutSec),
		}, docs, a.queries, vecCfg.Dimensions)
		if err != nil {
			return fmt.Errorf("connect milvus: %w", err)
		}
		a.vectors = ix
		a.vectorPing = ix
		a.closers = append(a.closers, func() { _ = ix.Close(context.Background()) })

	default:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:      cfg.Vector.Redis.Addrs,
			Username:   cfg.Vector.Redis.Username,
			Password:   cfg.Vector.Redis.Password,
			DB:         cfg.Vector.Redis.DB,
			ClientName: "docrag-" + a.env,
		})
		if err != nil {
			return fmt.Errorf("create redis store: %w", err)
		}
		a.closers = append(a.closers, store.Close)

		if err := store.WaitForReady(ctx, config.Seconds(cfg.Vector.ReadinessTimeout)); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
		a.logger.Info("Redis ready", zap.Strings("addrs", cfg.Vector.Redis.Addrs))

		var cache *dbRedis.Store
		if cfg.Embedding.Cache.Enabled {
			cache = store
		}
		docs := a.buildEmbedder(base, cache, provName, vecCfg, vecCfg.DocumentInstruction)
		a.queries = a.buildEmbedder(base, cache, provName, vecCfg, vecCfg.QueryInstruction)

		ix := chunkindex.New(store, docs, a.queries, cfg.Vector.Redis.KeyPrefix, vecCfg.Dimensions).
			WithHNSW(chunkindex.HNSWConfig{
				M:           cfg.Vector.Redis.HNSWM,
				EFConstruct: cfg.Vector.Redis.HNSWEFConstruct,
			})
		a.vectors = ix
		a.vectorPing = store
		a.lister = ix
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func (a *app) buildEmbedder(
	base domain.Embedder,
	cache *dbRedis.Store,
	provName string,
	vecCfg config.VectorizerConfig,
	instruction string,
) domain.Embedder {
	embedder := base
	if cache != nil {
		embedder = embcache.New(base, cache, embcache.Config{
			KeyPrefix:  a.cfg.Vector.Redis.KeyPrefix + "emb:" + vecCfg.Model + ":",
			TTL:        time.Duration(a.cfg.Embedding.Cache.TTLHours) * time.Hour,
			Dimensions: vecCfg.Dimensions,
		}, metrics.EmbeddingCacheTotal, a.logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, provName, vecCfg.Model, config.Millis(a.cfg.Embedding.SlowThresholdMs), a.logger,
	)

	// outermost so the cache key includes the instruction
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

func (a *app) migrate(ctx context.Context, ensureBucket bool) error {
	if err := a.meta.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate metadata: %w", err)
	}
	if err := a.vectors.EnsureClass(ctx, a.cfg.Vector.Class); err != nil {
		return fmt.Errorf("ensure vector class %s: %w", a.cfg.Vector.Class, err)
	}
	if ensureBucket {
		if err := a.blobs.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	}
	a.logger.Info("Schema ready",
		zap.String("class", a.cfg.Vector.Class),
		zap.String("metadata_driver", a.cfg.Metadata.Driver),
	)
	return nil
}

func (a *app) ingest() *ingest.Service {
	ic := a.cfg.Ingestion
	return ingest.New(
		a.blobs, a.meta, a.vectors,
		extract.New(),
		chunker.New(
			chunker.WithSentencesPerChunk(ic.SentencesPerChunk),
			chunker.WithOverlap(ic.Overlap),
			chunker.WithMaxChars(ic.MaxChunkChars),
		),
		ingest.Config{
			Class:          a.cfg.Vector.Class,
			MaxUploadBytes: int64(a.cfg.HTTP.MaxUploadMB) << 20,
			DeleteWorkers:  ic.DeleteWorkers,
		},
		a.logger,
	)
}

func (a *app) retrieval() *retrieval.Service {
	return retrieval.New(a.meta, a.vectors, a.cfg.Vector.Class, a.logger)
}

func (a *app) conversations() *conversationuc.Service {
	return conversationuc.New(a.meta, a.logger)
}

func (a *app) reconciler() *reconcile.Service {
	return reconcile.New(a.lister, a.meta, a.cfg.Vector.Class, a.cfg.Reconcile.BatchSize, a.logger).
		WithGrace(time.Duration(a.cfg.Reconcile.GraceMinutes) * time.Minute)
}

func (a *app) health() *healthuc.Service {
	return healthuc.New(healthuc.Dependencies{
		Metadata:  a.meta,
		Vector:    a.vectorPing,
		Blob:      a.blobs,
		Embedding: newEmbeddingHealthChecker(a.queries),
	})
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/cache/redis"
	"github.com/wintrouble/backend/internal/catalog/neo4j"
	"github.com/wintrouble/backend/internal/chunker"
	"github.com/wintrouble/backend/internal/feedback"
	"github.com/wintrouble/backend/internal/ingestion"
	"github.com/wintrouble/backend/internal/llm"
	"github.com/wintrouble/backend/internal/loader"
	"github.com/wintrouble/backend/internal/query"
	"github.com/wintrouble/backend/internal/storage/sqlite"
	"github.com/wintrouble/backend/internal/vector"
	"github.com/wintrouble/backend/internal/vector/memory"
	"github.com/wintrouble/backend/internal/vector/qdrant"
	"github.com/wintrouble/backend/internal/vector/zilliz"
	"github.com/wintrouble/backend/pkg/config"
	"github.com/wintrouble/backend/pkg/logger"
)

// services holds everything built from the config. close releases them in
// reverse order of construction.
type services struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *sqlite.Client
	queries   *sqlite.QueryLedger
	processor *ingestion.Processor
	engine    *query.Engine
	feedback  *feedback.Service
	catalog   *neo4j.Client

	closers []func()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	err = logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.GetLogger(), nil
}

func buildServices(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *services, err error) {
	s := &services{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.db, err = sqlite.Open(cfg.SQLite.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s.onClose(func() { s.db.Close() })

	index, err := openIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.onClose(func() { index.Close() })
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare vector collection: %w", err)
	}

	embedder, gen := openModel(cfg, log)
	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.onClose(func() { cache.Close() })
		embedder = redis.NewCachedEmbedder(embedder, cache, cfg.LLM.Provider+":"+cfg.LLM.EmbeddingModel, log)
	}

	splitter, err := chunker.New(cfg.Chunker.MaxChars, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	s.processor = ingestion.NewProcessor(
		s.db.IngestionLedger(),
		loader.NewRegistry(),
		splitter,
		ingestion.NewWriter(embedder, index, log),
		log,
	)
	s.processor.SetWorkers(cfg.Ingestion.Workers)

	if cfg.Neo4j.Enabled {
		s.catalog, err = neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		s.onClose(func() { s.catalog.Close(context.Background()) })
		if err := s.catalog.EnsureSchema(ctx); err != nil {
			log.Warn("Failed to ensure catalog schema", zap.Error(err))
		}
		s.processor.SetCataloger(s.catalog)
	}

	s.queries = s.db.QueryLedger(cfg.Query.EscalationThreshold)
	answerer := query.NewRAGAnswerer(embedder, index, gen, cfg.Query.TopK, log)
	s.engine = query.NewEngine(answerer, s.queries, log)
	s.feedback = feedback.NewService(s.queries, log)

	return s, nil
}

func openIndex(ctx context.Context, cfg *config.Config, log *zap.Logger) (vector.Index, error) {
	switch cfg.Vector.Backend {
	case config.VectorMilvus:
		idx, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.LLM.EmbeddingDim, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to milvus: %w", err)
		}
		return idx, nil
	case config.VectorQdrant:
		idx, err := qdrant.NewClient(qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.CollectionName,
			VectorDim:  cfg.LLM.EmbeddingDim,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		return idx, nil
	case config.VectorMemory:
		if cfg.Vector.MemoryPath == "" {
			log.Warn("Using the in-memory vector index without a snapshot; vectors are lost on exit")
			return memory.New(), nil
		}
		idx, err := memory.Open(cfg.Vector.MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector snapshot: %w", err)
		}
		log.Info("Vector snapshot loaded",
			zap.String("path", cfg.Vector.MemoryPath),
			zap.Int("vectors", idx.Len()),
		)
		return idx, nil
	}
	return nil, errors.New("unknown vector backend " + cfg.Vector.Backend)
}

// openModel returns the embedder and answer generator for the configured
// provider. The offline provider needs no network access.
func openModel(cfg *config.Config, log *zap.Logger) (ingestion.Embedder, query.Generator) {
	if cfg.LLM.Provider == config.ProviderOffline {
		return llm.NewHashEmbedder(cfg.LLM.EmbeddingDim), llm.ExtractiveGenerator{}
	}

	client := llm.NewClient(llm.Options{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbeddingDim:   cfg.LLM.EmbeddingDim,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	}, log)
	return client, client
}

func (s *services) onClose(f func()) {
	s.closers = append(s.closers, f)
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

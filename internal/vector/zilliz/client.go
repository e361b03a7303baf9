package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/vector"
)

const (
	fieldChunkID      = "chunk_id"
	fieldDocumentID   = "document_id"
	fieldChunkIndex   = "chunk_index"
	fieldEmbedding    = "embedding"
	fieldText         = "text"
	fieldSource       = "source"
	fieldDocumentName = "document_name"
	fieldSection      = "section"
	fieldLocator      = "locator"
	fieldLastModified = "last_modified"

	maxTextLen = 8192

	ivfNList  = 1024
	ivfNProbe = 16
)

var outputFields = []string{
	fieldChunkID, fieldDocumentID, fieldChunkIndex, fieldText, fieldSource,
	fieldDocumentName, fieldSection, fieldLocator, fieldLastModified,
}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	log            *zap.Logger
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	log.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		log:            log,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		pk := varchar(fieldChunkID, 640)
		pk.PrimaryKey = true

		schema := &entity.Schema{
			CollectionName: z.collectionName,
			Description:    "Windows troubleshooting document chunks",
			Fields: []*entity.Field{
				pk,
				varchar(fieldDocumentID, 512),
				{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
				{
					Name:       fieldEmbedding,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(z.vectorDim)},
				},
				varchar(fieldText, maxTextLen*4),
				varchar(fieldSource, 64),
				varchar(fieldDocumentName, 512),
				varchar(fieldSection, 512),
				varchar(fieldLocator, 128),
				{Name: fieldLastModified, DataType: entity.FieldTypeInt64},
			},
		}

		if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := indexParams()
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		z.log.Info("Collection created", zap.String("collection", z.collectionName))
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

func indexParams() (entity.Index, error) {
	return entity.NewIndexIvfFlat(entity.COSINE, ivfNList)
}

func searchParams() (entity.SearchParam, error) {
	return entity.NewIndexIvfFlatSearchParam(ivfNProbe)
}

// documentExpr selects every chunk of one document.
func documentExpr(source, documentID string) string {
	return fmt.Sprintf("%s == %s && %s == %s",
		fieldSource, strconv.Quote(source),
		fieldDocumentID, strconv.Quote(documentID),
	)
}

func (z *Client) DeleteDocument(ctx context.Context, source, documentID string) error {
	if err := z.client.Delete(ctx, z.collectionName, "", documentExpr(source, documentID)); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}

	z.log.Debug("Document vectors deleted",
		zap.String("source", source),
		zap.String("document_id", documentID),
	)
	return nil
}

func (z *Client) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	n := len(points)
	chunkIDs := make([]string, n)
	documentIDs := make([]string, n)
	chunkIndexes := make([]int64, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	sources := make([]string, n)
	names := make([]string, n)
	sections := make([]string, n)
	locators := make([]string, n)
	modified := make([]int64, n)

	for i, p := range points {
		chunkIDs[i] = p.ID
		documentIDs[i] = p.DocumentID
		chunkIndexes[i] = int64(p.ChunkIndex)
		embeddings[i] = p.Vector
		texts[i] = truncate(p.Text, maxTextLen)
		sources[i] = p.Source
		names[i] = p.DocumentName
		sections[i] = p.Section
		locators[i] = p.Locator
		if p.LastModified != nil {
			modified[i] = p.LastModified.Unix()
		}
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldDocumentID, documentIDs),
		entity.NewColumnInt64(fieldChunkIndex, chunkIndexes),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldDocumentName, names),
		entity.NewColumnVarChar(fieldSection, sections),
		entity.NewColumnVarChar(fieldLocator, locators),
		entity.NewColumnInt64(fieldLastModified, modified),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	z.log.Info("Chunks written to vector DB", zap.Int("count", n))
	return nil
}

func (z *Client) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	sp, err := searchParams()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			hit := vector.Hit{Score: sr.Scores[i]}
			hit.ID = stringAt(sr.Fields, fieldChunkID, i)
			hit.DocumentID = stringAt(sr.Fields, fieldDocumentID, i)
			hit.ChunkIndex = int(int64At(sr.Fields, fieldChunkIndex, i))
			hit.Text = stringAt(sr.Fields, fieldText, i)
			hit.Source = stringAt(sr.Fields, fieldSource, i)
			hit.DocumentName = stringAt(sr.Fields, fieldDocumentName, i)
			hit.Section = stringAt(sr.Fields, fieldSection, i)
			hit.Locator = stringAt(sr.Fields, fieldLocator, i)
			if ts := int64At(sr.Fields, fieldLastModified, i); ts != 0 {
				t := time.Unix(ts, 0).UTC()
				hit.LastModified = &t
			}
			hits = append(hits, hit)
		}
	}

	z.log.Debug("Vector search completed", zap.Int("topK", topK), zap.Int("results", len(hits)))
	return hits, nil
}

func stringAt(cols client.ResultSet, name string, i int) string {
	col := cols.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return v
}

func int64At(cols client.ResultSet, name string, i int) int64 {
	col := cols.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.GetAsInt64(i)
	if err != nil {
		return 0
	}
	return v
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}

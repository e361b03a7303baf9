package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/vector"
)

const upsertBatchSize = 100

// pointNamespace scopes the UUIDs derived from chunk ids.
var pointNamespace = uuid.MustParse("6f1c3c8e-4a0b-4f5e-9a57-7d1e3b2c9d10")

// PointID maps a chunk id onto the UUID Qdrant stores it under.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorDim  int
}

type Client struct {
	client     *qdrant.Client
	collection string
	vectorDim  int
	log        *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	log.Info("Qdrant client initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)

	return &Client{client: c, collection: cfg.Collection, vectorDim: cfg.VectorDim, log: log}, nil
}

func (q *Client) Close() error {
	return q.client.Close()
}

func (q *Client) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.vectorDim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{"source", "document_id"} {
		_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", field, err)
		}
	}

	q.log.Info("Qdrant collection created", zap.String("collection", q.collection))
	return nil
}

// documentFilter selects every chunk of one document.
func documentFilter(source, documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("source", source),
			qdrant.NewMatch("document_id", documentID),
		},
	}
}

func (q *Client) DeleteDocument(ctx context.Context, source, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(source, documentID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

func (q *Client) Upsert(ctx context.Context, points []vector.Point) error {
	batch := make([]*qdrant.PointStruct, 0, upsertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         batch,
		})
		batch = batch[:0]
		return err
	}

	for _, p := range points {
		payload := map[string]*qdrant.Value{
			"chunk_id":      qdrant.NewValueString(p.ID),
			"document_id":   qdrant.NewValueString(p.DocumentID),
			"chunk_index":   qdrant.NewValueInt(int64(p.ChunkIndex)),
			"text":          qdrant.NewValueString(p.Text),
			"source":        qdrant.NewValueString(p.Source),
			"document_name": qdrant.NewValueString(p.DocumentName),
			"section":       qdrant.NewValueString(p.Section),
			"locator":       qdrant.NewValueString(p.Locator),
		}
		if p.LastModified != nil {
			payload["last_modified"] = qdrant.NewValueInt(p.LastModified.Unix())
		}

		batch = append(batch, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.ID)),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: payload,
		})
		if len(batch) == upsertBatchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("failed to upsert points: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	q.log.Info("Chunks written to qdrant", zap.Int("count", len(points)))
	return nil
}

func (q *Client) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(query),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, len(results))
	for _, r := range results {
		payload := r.GetPayload()
		hit := vector.Hit{Score: r.GetScore()}
		hit.ID = payload["chunk_id"].GetStringValue()
		hit.DocumentID = payload["document_id"].GetStringValue()
		hit.ChunkIndex = int(payload["chunk_index"].GetIntegerValue())
		hit.Text = payload["text"].GetStringValue()
		hit.Source = payload["source"].GetStringValue()
		hit.DocumentName = payload["document_name"].GetStringValue()
		hit.Section = payload["section"].GetStringValue()
		hit.Locator = payload["locator"].GetStringValue()
		if v, ok := payload["last_modified"]; ok {
			t := time.Unix(v.GetIntegerValue(), 0).UTC()
			hit.LastModified = &t
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Package neo4j keeps a browsable catalog of ingested documents as a graph:
// (:Source)-[:PROVIDES]->(:Document)-[:HAS_SECTION]->(:Section).
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/storage/models"
	"github.com/wintrouble/backend/pkg/circuitbreaker"
	"github.com/wintrouble/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	log         *zap.Logger
}

// DocumentEntry is a cataloged document.
type DocumentEntry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Source   string   `json:"source"`
	Sections []string `json:"sections"`
}

func NewClient(ctx context.Context, uri, username, password, database string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         log,
	}

	log.Info("Neo4j catalog initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
		log:         log,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(ctx context.Context, session neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(ctx, session)
		})
	})
}

// EnsureSchema creates the uniqueness constraints the catalog relies on.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT catalog_source IF NOT EXISTS FOR (s:Source) REQUIRE s.name IS UNIQUE`,
		`DROP CONSTRAINT catalog_document IF EXISTS`,
		`CREATE CONSTRAINT catalog_document_key IF NOT EXISTS FOR (d:Document) REQUIRE d.key IS UNIQUE`,
	}
	return c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

const catalogDocumentQuery = `
	MERGE (s:Source {name: $source})
	MERGE (d:Document {key: $key})
	SET d.id = $id,
	    d.name = $name,
	    d.type = $type,
	    d.last_modified = $last_modified,
	    d.updated_at = timestamp()
	MERGE (s)-[:PROVIDES]->(d)
	WITH d
	OPTIONAL MATCH (d)-[old:HAS_SECTION]->(:Section)
	DELETE old
	WITH DISTINCT d
	UNWIND range(0, size($sections) - 1) AS i
	MERGE (sec:Section {document_key: $key, title: $sections[i]})
	SET sec.position = i
	MERGE (d)-[:HAS_SECTION]->(sec)
`

// CatalogDocument upserts doc and replaces its section list.
func (c *Client) CatalogDocument(ctx context.Context, doc models.DocumentDescriptor, sections []string) error {
	params := catalogParams(doc, sections)

	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, catalogDocumentQuery, params)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to catalog document %s: %w", doc.DocumentID, err)
	}

	c.log.Debug("Document cataloged",
		zap.String("document_id", doc.DocumentID),
		zap.Int("sections", len(sections)),
	)
	return nil
}

func catalogParams(doc models.DocumentDescriptor, sections []string) map[string]any {
	var lastModified any
	if doc.LastModified != nil {
		lastModified = doc.LastModified.UTC().UnixMilli()
	}
	if sections == nil {
		sections = []string{}
	}
	source := doc.Source
	if source == "" {
		source = "unknown"
	}
	return map[string]any{
		"source":        source,
		"key":           source + ":" + doc.DocumentID,
		"id":            doc.DocumentID,
		"name":          doc.DocumentName,
		"type":          doc.DocumentType,
		"last_modified": lastModified,
		"sections":      sections,
	}
}

// Documents lists cataloged documents with their sections in order.
func (c *Client) Documents(ctx context.Context, source string, limit int) ([]DocumentEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []DocumentEntry
	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Source)-[:PROVIDES]->(d:Document)
			WHERE $source = '' OR s.name = $source
			OPTIONAL MATCH (d)-[:HAS_SECTION]->(sec:Section)
			WITH s, d, sec ORDER BY sec.position
			RETURN d.id AS id, d.name AS name, d.type AS type, s.name AS source,
			       collect(sec.title) AS sections
			ORDER BY d.id
			LIMIT $limit
		`

		result, err := session.Run(ctx, query, map[string]any{"source": source, "limit": limit})
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}

		entries = entries[:0]
		for result.Next(ctx) {
			record := result.Record()
			entry := DocumentEntry{
				ID:     stringValue(record, "id"),
				Name:   stringValue(record, "name"),
				Type:   stringValue(record, "type"),
				Source: stringValue(record, "source"),
			}
			if raw, ok := record.Get("sections"); ok {
				if titles, ok := raw.([]any); ok {
					for _, t := range titles {
						if s, ok := t.(string); ok {
							entry.Sections = append(entry.Sections, s)
						}
					}
				}
			}
			entries = append(entries, entry)
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func stringValue(record *neo4j.Record, key string) string {
	v, _ := record.Get(key)
	s, _ := v.(string)
	return s
}

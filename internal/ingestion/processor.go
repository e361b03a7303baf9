// Package ingestion decides which documents need (re)ingestion and runs
// load, chunk, embed and index for them, recording every attempt.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wintrouble/backend/internal/chunker"
	"github.com/wintrouble/backend/internal/loader"
	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/internal/storage/models"
)

const DefaultWorkers = 4

type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

type Result struct {
	Source     string
	DocumentID string
	Name       string
	Status     Status
	Chunks     int
	Err        error
}

// Ledger is the ingestion history the processor reads and appends to.
type Ledger interface {
	HistoryReader
	RecordAttempt(ctx context.Context, attempt models.IngestionAttempt) (int64, error)
}

type Loader interface {
	Load(ctx context.Context, path, declaredType string) ([]loader.Segment, error)
}

// Cataloger records successfully ingested documents somewhere browsable.
// Its failures never change an attempt's outcome.
type Cataloger interface {
	CatalogDocument(ctx context.Context, doc models.DocumentDescriptor, sections []string) error
}

type Processor struct {
	decider  *Decider
	ledger   Ledger
	docs     Loader
	splitter *chunker.Chunker
	writer   *Writer
	locks    *KeyedMutex
	catalog  Cataloger
	workers  int
	log      *zap.Logger
}

func NewProcessor(ledger Ledger, docs Loader, splitter *chunker.Chunker, writer *Writer, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		decider:  NewDecider(ledger),
		ledger:   ledger,
		docs:     docs,
		splitter: splitter,
		writer:   writer,
		locks:    NewKeyedMutex(),
		workers:  DefaultWorkers,
		log:      log,
	}
}

func (p *Processor) SetWorkers(n int) {
	if n > 0 {
		p.workers = n
	}
}

func (p *Processor) SetCataloger(c Cataloger) {
	p.catalog = c
}

// ProcessBatch ingests docs with a bounded number of workers. A failing
// document is recorded and reported without stopping the others. Results are
// in input order.
func (p *Processor) ProcessBatch(ctx context.Context, docs []models.DocumentDescriptor) []Result {
	results := make([]Result, len(docs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = p.ProcessDocument(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	var ingested, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case StatusIngested:
			ingested++
		case StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	p.log.Info("Ingestion batch finished",
		zap.Int("documents", len(docs)),
		zap.Int("ingested", ingested),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return results
}

// Ingest enumerates documents and processes them as one batch.
func (p *Processor) Ingest(ctx context.Context, e Enumerator) ([]Result, error) {
	docs, err := e.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	return p.ProcessBatch(ctx, docs), nil
}

// ProcessDocument runs decide, load, chunk, write and record for one document
// while holding that document's lock. Success is recorded only after the
// index write returned; failures are recorded even when ctx was cancelled.
func (p *Processor) ProcessDocument(ctx context.Context, doc models.DocumentDescriptor) (res Result) {
	res = Result{Source: doc.Source, DocumentID: doc.DocumentID, Name: doc.DocumentName}
	if doc.DocumentID == "" {
		res.Status = StatusFailed
		res.Err = errors.New("document id is required")
		return res
	}

	if strings.Contains(doc.Source, ":") {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("source %q must not contain ':'", doc.Source)
		return res
	}

	unlock, err := p.locks.Lock(ctx, DocumentKey(doc.Source, doc.DocumentID))
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.IngestionDuration.Observe(time.Since(start).Seconds())
		metrics.IngestionAttempts.WithLabelValues(string(res.Status)).Inc()
	}()

	ingest, err := p.decider.ShouldIngest(ctx, doc.Source, doc.DocumentID, doc.LastModified)
	if err != nil {
		return p.fail(ctx, doc, res, err)
	}
	if !ingest {
		p.log.Debug("Document unchanged, skipping",
			zap.String("source", doc.Source),
			zap.String("document_id", doc.DocumentID),
		)
		res.Status = StatusSkipped
		return res
	}

	segments, err := p.docs.Load(ctx, doc.Path, doc.DocumentType)
	if err != nil {
		return p.fail(ctx, doc, res, err)
	}

	chunks := p.splitter.Split(chunker.Metadata{
		Source:       doc.Source,
		DocumentID:   doc.DocumentID,
		DocumentName: doc.DocumentName,
		LastModified: doc.LastModified,
	}, segments)
	if len(chunks) == 0 {
		return p.fail(ctx, doc, res, fmt.Errorf("%w: no text content", loader.ErrExtraction))
	}

	if err := p.writer.Upsert(ctx, doc.Source, doc.DocumentID, chunks); err != nil {
		return p.fail(ctx, doc, res, err)
	}

	attempt := attemptFor(doc)
	attempt.Status = models.IngestionSuccess
	attempt.ChunkCount = len(chunks)
	if _, err := p.ledger.RecordAttempt(ctx, attempt); err != nil {
		// The vectors are written but the ledger does not know, so the next
		// run re-ingests the document.
		res.Status = StatusFailed
		res.Err = fmt.Errorf("record ingestion: %w", err)
		p.log.Error("Failed to record ingestion success",
			zap.String("document_id", doc.DocumentID),
			zap.Error(err),
		)
		return res
	}

	metrics.ChunksWritten.Add(float64(len(chunks)))
	p.log.Info("Document ingested",
		zap.String("document_id", doc.DocumentID),
		zap.String("name", doc.DocumentName),
		zap.Int("chunks", len(chunks)),
	)

	if p.catalog != nil {
		if err := p.catalog.CatalogDocument(ctx, doc, sectionTitles(chunks)); err != nil {
			p.log.Warn("Failed to catalog document",
				zap.String("document_id", doc.DocumentID),
				zap.Error(err),
			)
		}
	}

	res.Status = StatusIngested
	res.Chunks = len(chunks)
	return res
}

func (p *Processor) fail(ctx context.Context, doc models.DocumentDescriptor, res Result, cause error) Result {
	attempt := attemptFor(doc)
	attempt.Status = models.IngestionFailed
	attempt.Error = cause.Error()

	if _, err := p.ledger.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		p.log.Error("Failed to record ingestion failure",
			zap.String("document_id", doc.DocumentID),
			zap.Error(err),
		)
	}

	p.log.Warn("Document ingestion failed",
		zap.String("document_id", doc.DocumentID),
		zap.String("name", doc.DocumentName),
		zap.Error(cause),
	)

	res.Status = StatusFailed
	res.Err = cause
	return res
}

func attemptFor(doc models.DocumentDescriptor) models.IngestionAttempt {
	docType := doc.DocumentType
	if t, ok := loader.NormalizeType(docType); ok {
		docType = t
	} else if docType == "" {
		docType, _ = loader.NormalizeType(filepath.Ext(doc.Path))
	}
	return models.IngestionAttempt{
		Source:       doc.Source,
		DocumentID:   doc.DocumentID,
		DocumentType: docType,
		DocumentName: doc.DocumentName,
		LastModified: doc.LastModified,
	}
}

func sectionTitles(chunks []chunker.Chunk) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, c := range chunks {
		if c.Section == "" || seen[c.Section] {
			continue
		}
		seen[c.Section] = true
		titles = append(titles, c.Section)
	}
	return titles
}

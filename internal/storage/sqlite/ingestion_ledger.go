package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/storage/models"
)

type ingestionRow struct {
	ID           int64         `db:"id"`
	Source       string        `db:"source"`
	DocumentID   string        `db:"document_id"`
	DocumentType string        `db:"document_type"`
	DocumentName string        `db:"document_name"`
	Status       string        `db:"status"`
	LastModified sql.NullInt64 `db:"last_modified"`
	ChunkCount   int           `db:"chunk_count"`
	Error        string        `db:"error"`
	CreatedAt    int64         `db:"created_at"`
}

func (r ingestionRow) record() models.IngestionRecord {
	return models.IngestionRecord{
		ID:           r.ID,
		Source:       r.Source,
		DocumentID:   r.DocumentID,
		DocumentType: r.DocumentType,
		DocumentName: r.DocumentName,
		Status:       r.Status,
		LastModified: fromNullableUnix(r.LastModified),
		ChunkCount:   r.ChunkCount,
		Error:        r.Error,
		CreatedAt:    fromUnix(r.CreatedAt),
	}
}

const ingestionColumns = `id, source, document_id, document_type, document_name, status, last_modified, chunk_count, error, created_at`

// IngestionLedger is the append-only log of ingestion attempts. The newest
// row for a (source, document_id) pair, by created_at then id, decides its
// freshness.
type IngestionLedger struct {
	db  *sqlx.DB
	log *zap.Logger
	now func() time.Time
}

func (c *Client) IngestionLedger() *IngestionLedger {
	return &IngestionLedger{db: c.db, log: c.log, now: time.Now}
}

func (l *IngestionLedger) RecordAttempt(ctx context.Context, attempt models.IngestionAttempt) (int64, error) {
	if attempt.DocumentID == "" {
		return 0, errors.New("document id is required")
	}
	if attempt.Status != models.IngestionSuccess && attempt.Status != models.IngestionFailed {
		return 0, fmt.Errorf("invalid ingestion status %q", attempt.Status)
	}

	query := `
		INSERT INTO ingestion_log (source, document_id, document_type, document_name, status,
			last_modified, chunk_count, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := l.db.ExecContext(ctx, query,
		attempt.Source,
		attempt.DocumentID,
		attempt.DocumentType,
		attempt.DocumentName,
		attempt.Status,
		nullableUnix(attempt.LastModified),
		attempt.ChunkCount,
		attempt.Error,
		toUnix(l.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record ingestion attempt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read ingestion row id: %w", err)
	}

	l.log.Debug("Ingestion attempt recorded",
		zap.Int64("id", id),
		zap.String("source", attempt.Source),
		zap.String("document_id", attempt.DocumentID),
		zap.String("status", attempt.Status),
	)

	return id, nil
}

// HistoryFor yields the attempts for documentID newest first. An empty
// source matches the document under every source. Rows are read lazily and
// each range over the sequence runs a fresh query. The ledger connection is
// held until the loop finishes, so callers must not use the ledger from
// inside the loop body.
func (l *IngestionLedger) HistoryFor(ctx context.Context, source, documentID string) iter.Seq2[models.IngestionRecord, error] {
	return func(yield func(models.IngestionRecord, error) bool) {
		query := `SELECT ` + ingestionColumns + ` FROM ingestion_log
			WHERE document_id = ? AND (? = '' OR source = ?)
			ORDER BY created_at DESC, id DESC`

		rows, err := l.db.QueryxContext(ctx, query, documentID, source, source)
		if err != nil {
			yield(models.IngestionRecord{}, fmt.Errorf("failed to query ingestion history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row ingestionRow
			if err := rows.StructScan(&row); err != nil {
				yield(models.IngestionRecord{}, fmt.Errorf("failed to scan row: %w", err))
				return
			}
			if !yield(row.record(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.IngestionRecord{}, fmt.Errorf("failed to iterate ingestion history: %w", err))
		}
	}
}

// Latest returns the newest attempt for the document, or nil if there is
// none. Documents are identified by source and id together.
func (l *IngestionLedger) Latest(ctx context.Context, source, documentID string) (*models.IngestionRecord, error) {
	query := `SELECT ` + ingestionColumns + ` FROM ingestion_log
		WHERE source = ? AND document_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var row ingestionRow
	if err := l.db.GetContext(ctx, &row, query, source, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest ingestion: %w", err)
	}

	rec := row.record()
	return &rec, nil
}

func (l *IngestionLedger) LatestStatus(ctx context.Context, source, documentID string) (*models.IngestionStatus, error) {
	rec, err := l.Latest(ctx, source, documentID)
	if err != nil || rec == nil {
		return nil, err
	}
	return &models.IngestionStatus{Status: rec.Status, LastModified: rec.LastModified}, nil
}

// List returns the newest attempts across all documents.
func (l *IngestionLedger) List(ctx context.Context, limit int) ([]models.IngestionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + ingestionColumns + ` FROM ingestion_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	var rows []ingestionRow
	if err := l.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list ingestion history: %w", err)
	}

	records := make([]models.IngestionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

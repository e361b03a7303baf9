package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/wintrouble/backend/internal/storage/models"
)

// HistoryReader returns the newest ingestion attempt for a document, or nil.
type HistoryReader interface {
	Latest(ctx context.Context, source, documentID string) (*models.IngestionRecord, error)
}

// Decide reports whether a document must be (re)ingested given its newest
// ledger record. A document is fresh only when the last attempt succeeded,
// recorded a modification time, and lastModified is not newer than it. A
// caller without a timestamp has no evidence of change.
func Decide(latest *models.IngestionRecord, lastModified *time.Time) bool {
	switch {
	case latest == nil:
		return true
	case latest.Status != models.IngestionSuccess:
		return true
	case latest.LastModified == nil:
		return true
	case lastModified != nil && lastModified.After(*latest.LastModified):
		return true
	default:
		return false
	}
}

type Decider struct {
	history HistoryReader
}

func NewDecider(history HistoryReader) *Decider {
	return &Decider{history: history}
}

func (d *Decider) ShouldIngest(ctx context.Context, source, documentID string, lastModified *time.Time) (bool, error) {
	latest, err := d.history.Latest(ctx, source, documentID)
	if err != nil {
		return false, fmt.Errorf("read ingestion history for %s: %w", DocumentKey(source, documentID), err)
	}
	return Decide(latest, lastModified), nil
}

package feedback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/internal/storage/models"
)

// Ledger is the part of the query ledger reactions are applied through.
type Ledger interface {
	ApplyReaction(ctx context.Context, questionID string, deltaUp, deltaDown int) (*models.QueryRecord, error)
}

type Service struct {
	ledger Ledger
	log    *zap.Logger
}

func NewService(ledger Ledger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ledger: ledger, log: log}
}

// React applies one reaction event to the newest record of questionID.
func (s *Service) React(ctx context.Context, questionID string, ev ReactionEvent) (*models.QueryRecord, error) {
	up, down, err := Deltas(ev)
	if err != nil {
		return nil, err
	}

	record, err := s.ledger.ApplyReaction(ctx, questionID, up, down)
	if err != nil {
		return nil, fmt.Errorf("apply reaction: %w", err)
	}

	metrics.ReactionsTotal.WithLabelValues(string(ev.Kind), string(ev.Polarity)).Inc()

	s.log.Info("Reaction applied",
		zap.String("question_id", questionID),
		zap.String("kind", string(ev.Kind)),
		zap.String("polarity", string(ev.Polarity)),
		zap.Int("thumbs_up", record.ThumbsUp),
		zap.Int("thumbs_down", record.ThumbsDown),
		zap.Bool("flagged", record.Flagged),
	)

	return record, nil
}

// Package query answers troubleshooting questions from the vector index and
// logs every answer to the query ledger.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/internal/storage/models"
)

var ErrEmptyQuestion = errors.New("question is empty")

type Answer struct {
	Text string
	// Confidence is on a 0-100 scale.
	Confidence float64
	Sources    []Source
}

type Source struct {
	ChunkID      string  `json:"chunk_id"`
	Source       string  `json:"source"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Section      string  `json:"section,omitempty"`
	Locator      string  `json:"locator,omitempty"`
	Score        float32 `json:"score"`
}

// Answerer produces an answer and its confidence for a question.
type Answerer interface {
	Answer(ctx context.Context, question string) (*Answer, error)
}

// Ledger is the part of the query log the engine writes to. Append returns
// the record exactly as it was inserted.
type Ledger interface {
	Append(ctx context.Context, entry models.QueryEntry) (*models.QueryRecord, error)
}

type Engine struct {
	answerer Answerer
	ledger   Ledger
	log      *zap.Logger
}

type QueryRequest struct {
	QuestionID string
	UserID     string
	ChannelID  string
	Question   string
	// Escalate flags the record for review regardless of confidence.
	Escalate bool
}

type QueryResponse struct {
	QuestionID string
	Question   string
	Answer     string
	Confidence float64
	Flagged    bool
	Sources    []Source
	LatencyMS  int64
}

func NewEngine(answerer Answerer, ledger Ledger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{answerer: answerer, ledger: ledger, log: log}
}

// ProcessQuery answers req and appends the result to the ledger. A missing
// question id is generated. Answerer errors are returned without a ledger row.
func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()
	questionID := req.QuestionID
	if questionID == "" {
		questionID = uuid.New().String()
	}

	e.log.Info("Processing query",
		zap.String("question_id", questionID),
		zap.String("user_id", req.UserID),
		zap.String("channel_id", req.ChannelID),
	)

	answer, err := e.answerer.Answer(ctx, question)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}

	rec, err := e.ledger.Append(ctx, models.QueryEntry{
		QuestionID: questionID,
		UserID:     req.UserID,
		ChannelID:  req.ChannelID,
		Question:   question,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		ForceFlag:  req.Escalate,
	})
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to record query: %w", err)
	}

	latency := time.Since(start)
	metrics.QueryDuration.WithLabelValues(req.ChannelID).Observe(latency.Seconds())
	metrics.ConfidenceScore.Observe(answer.Confidence)
	if rec.Flagged {
		metrics.QueryTotal.WithLabelValues("escalated").Inc()
		metrics.EscalationsTotal.Inc()
	} else {
		metrics.QueryTotal.WithLabelValues(models.QueryStatusAnswered).Inc()
	}

	e.log.Info("Query processed",
		zap.String("question_id", questionID),
		zap.Float64("confidence", answer.Confidence),
		zap.Bool("flagged", rec.Flagged),
		zap.Duration("latency", latency),
	)

	return &QueryResponse{
		QuestionID: questionID,
		Question:   question,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Flagged:    rec.Flagged,
		Sources:    answer.Sources,
		LatencyMS:  latency.Milliseconds(),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/query"
	"github.com/wintrouble/backend/internal/storage/models"
)

const maxHistoryLimit = 500

// QueryHistory reads recent query ledger rows.
type QueryHistory interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine  *query.Engine
	history QueryHistory
	log     *zap.Logger
}

func NewQueryHandler(engine *query.Engine, history QueryHistory, log *zap.Logger) *QueryHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryHandler{engine: engine, history: history, log: log}
}

type queryRequest struct {
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
	Question   string `json:"question"`
	Escalate   bool   `json:"escalate"`
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		h.log.Warn("Failed to parse request body", zap.Error(err))
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	response, err := h.engine.ProcessQuery(c.UserContext(), query.QueryRequest{
		QuestionID: req.QuestionID,
		UserID:     req.UserID,
		ChannelID:  req.ChannelID,
		Question:   req.Question,
		Escalate:   req.Escalate,
	})
	if err != nil {
		return err
	}

	return c.JSON(queryResponseBody(response))
}

func queryResponseBody(response *query.QueryResponse) fiber.Map {
	sources := response.Sources
	if sources == nil {
		sources = []query.Source{}
	}
	return fiber.Map{
		"question_id": response.QuestionID,
		"question":    response.Question,
		"answer":      response.Answer,
		"confidence":  response.Confidence,
		"flagged":     response.Flagged,
		"sources":     sources,
		"latency_ms":  response.LatencyMS,
	}
}

// GetQueryHistory lists the newest ledger rows, optionally for one user.
func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := boundedLimit(c.QueryInt("limit", 50))

	records, err := h.history.Recent(c.UserContext(), c.Query("user_id"), limit)
	if err != nil {
		return err
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}

func boundedLimit(n int) int {
	if n <= 0 {
		return 50
	}
	return min(n, maxHistoryLimit)
}

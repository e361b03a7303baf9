package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/feedback"
)

type ReactionHandler struct {
	service *feedback.Service
	log     *zap.Logger
}

func NewReactionHandler(service *feedback.Service, log *zap.Logger) *ReactionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReactionHandler{service: service, log: log}
}

// reactionRequest accepts either a plain polarity ("up"/"down") or a chat
// reaction name ("+1", "thumbsdown") in Reaction.
type reactionRequest struct {
	QuestionID string `json:"question_id"`
	Kind       string `json:"kind"`
	Polarity   string `json:"polarity"`
	Reaction   string `json:"reaction"`
}

func (h *ReactionHandler) HandleReaction(c *fiber.Ctx) error {
	var req reactionRequest
	if err := c.BodyParser(&req); err != nil {
		h.log.Warn("Failed to parse request body", zap.Error(err))
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.QuestionID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "question_id is required")
	}

	ev, err := reactionEvent(req.Kind, req.Polarity, req.Reaction)
	if err != nil {
		return err
	}

	record, err := h.service.React(c.UserContext(), req.QuestionID, ev)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"question_id": record.QuestionID,
		"thumbs_up":   record.ThumbsUp,
		"thumbs_down": record.ThumbsDown,
		"flagged":     record.Flagged,
	})
}

func reactionEvent(kind, polarity, reaction string) (feedback.ReactionEvent, error) {
	k, err := feedback.ParseKind(kind)
	if err != nil {
		return feedback.ReactionEvent{}, err
	}
	name := polarity
	if name == "" {
		name = reaction
	}
	p, err := feedback.ParsePolarity(name)
	if err != nil {
		return feedback.ReactionEvent{}, err
	}
	return feedback.ReactionEvent{Kind: k, Polarity: p}, nil
}

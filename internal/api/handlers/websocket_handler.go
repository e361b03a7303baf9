package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/feedback"
	"github.com/wintrouble/backend/internal/query"
	"github.com/wintrouble/backend/internal/storage/sqlite"
)

type WebSocketHandler struct {
	engine   *query.Engine
	feedback *feedback.Service
	log      *zap.Logger
}

func NewWebSocketHandler(engine *query.Engine, feedback *feedback.Service, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{engine: engine, feedback: feedback, log: log}
}

type wsMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	ChannelID  string `json:"channel_id"`
	Question   string `json:"question"`
	// Content is the older name for Question.
	Content  string `json:"content"`
	Escalate bool   `json:"escalate"`
	Kind     string `json:"kind"`
	Polarity string `json:"polarity"`
	Reaction string `json:"reaction"`
}

// HandleConnection serves "query" messages, streaming the answer word by word
// followed by a "complete" frame, and "reaction" messages.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.log.Info("WebSocket connection established")

	defer func() {
		c.Close()
		h.log.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		var err error
		switch msg.Type {
		case "query":
			err = h.streamResponse(c, msg)
		case "reaction":
			err = h.applyReaction(c, msg)
		default:
			continue
		}
		if err != nil {
			h.log.Error("Failed to handle WebSocket message", zap.String("type", msg.Type), zap.Error(err))
			if werr := h.sendError(c, clientMessage(err)); werr != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, msg wsMessage) error {
	question := msg.Question
	if question == "" {
		question = msg.Content
	}

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.engine.ProcessQuery(context.Background(), query.QueryRequest{
		QuestionID: msg.QuestionID,
		UserID:     msg.UserID,
		ChannelID:  msg.ChannelID,
		Question:   question,
		Escalate:   msg.Escalate,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	body := queryResponseBody(response)
	body["type"] = "complete"
	return c.WriteJSON(body)
}

func (h *WebSocketHandler) applyReaction(c *websocket.Conn, msg wsMessage) error {
	if h.feedback == nil {
		return errors.New("reactions are not enabled")
	}
	ev, err := reactionEvent(msg.Kind, msg.Polarity, msg.Reaction)
	if err != nil {
		return err
	}
	record, err := h.feedback.React(context.Background(), msg.QuestionID, ev)
	if err != nil {
		return err
	}
	return c.WriteJSON(map[string]any{
		"type":        "reaction",
		"question_id": record.QuestionID,
		"thumbs_up":   record.ThumbsUp,
		"thumbs_down": record.ThumbsDown,
		"flagged":     record.Flagged,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]any{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}

// clientMessage hides internal failures from the client.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, query.ErrEmptyQuestion),
		errors.Is(err, feedback.ErrInvalidReaction),
		errors.Is(err, sqlite.ErrUnknownQuestion):
		return err.Error()
	}
	return "Failed to process message"
}

// splitIntoWords splits on spaces and keeps each newline as its own word.
func splitIntoWords(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch r {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}

package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Questions are free text about Windows, so SQL keywords such as "update" or
// "delete" are legitimate; only markup that could be replayed into a browser
// is rejected.
var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror\s*=|onload\s*=|onclick\s*=)`)

type Config struct {
	MaxQuestionLength   int
	MaxIDLength         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 5000
	}
	if cfg.MaxIDLength <= 0 {
		cfg.MaxIDLength = 256
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return fiber.NewError(fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		switch c.Path() {
		case "/api/v1/query":
			body, err := jsonBody(c)
			if err != nil {
				return err
			}
			if err := checkQuestion(body, cfg); err != nil {
				cfg.Logger.Warn("Rejected question",
					zap.String("ip", c.IP()),
					zap.Error(err),
				)
				return err
			}
			if err := checkID(body, "question_id", false, cfg.MaxIDLength); err != nil {
				return err
			}
		case "/api/v1/reactions":
			body, err := jsonBody(c)
			if err != nil {
				return err
			}
			if err := checkID(body, "question_id", true, cfg.MaxIDLength); err != nil {
				return err
			}
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func jsonBody(c *fiber.Ctx) (map[string]any, error) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid JSON format")
	}
	return body, nil
}

func checkQuestion(body map[string]any, cfg Config) error {
	question, ok := body["question"].(string)
	if !ok || strings.TrimSpace(question) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "question is required and must be a string")
	}
	if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
		return fiber.NewError(fiber.StatusBadRequest, "question exceeds maximum length")
	}
	if strings.ContainsRune(question, 0) || !utf8.ValidString(question) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid question content")
	}
	if xssPattern.MatchString(question) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid question content")
	}
	return nil
}

func checkID(body map[string]any, field string, required bool, maxLen int) error {
	raw, present := body[field]
	if !present || raw == nil {
		if required {
			return fiber.NewError(fiber.StatusBadRequest, field+" is required")
		}
		return nil
	}
	id, ok := raw.(string)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, field+" must be a string")
	}
	if required && id == "" {
		return fiber.NewError(fiber.StatusBadRequest, field+" is required")
	}
	if len(id) > maxLen {
		return fiber.NewError(fiber.StatusBadRequest, field+" is too long")
	}
	return nil
}

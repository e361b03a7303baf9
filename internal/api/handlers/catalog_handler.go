package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/wintrouble/backend/internal/catalog/neo4j"
)

// CatalogReader lists cataloged documents.
type CatalogReader interface {
	Documents(ctx context.Context, source string, limit int) ([]neo4j.DocumentEntry, error)
}

type CatalogHandler struct {
	catalog CatalogReader
}

func NewCatalogHandler(catalog CatalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) ListDocuments(c *fiber.Ctx) error {
	entries, err := h.catalog.Documents(c.UserContext(), c.Query("source"), boundedLimit(c.QueryInt("limit", 100)))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []neo4j.DocumentEntry{}
	}
	return c.JSON(fiber.Map{
		"documents": entries,
	})
}

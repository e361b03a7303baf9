package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wintrouble/backend/internal/catalog/neo4j"
	"github.com/wintrouble/backend/internal/feedback"
)

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Open", "Device", "Manager.", "\n", "Update", "the", "driver."},
		splitIntoWords("Open Device  Manager.\nUpdate the driver."))
	assert.Nil(t, splitIntoWords("   "))
}

func TestReactionEvent(t *testing.T) {
	ev, err := reactionEvent("added", "", ":thumbsup:")
	require.NoError(t, err)
	assert.Equal(t, feedback.ReactionEvent{Kind: feedback.KindAdded, Polarity: feedback.PolarityUp}, ev)

	ev, err = reactionEvent("removed", "down", "+1")
	require.NoError(t, err)
	assert.Equal(t, feedback.PolarityDown, ev.Polarity, "explicit polarity wins over reaction name")

	_, err = reactionEvent("", "up", "")
	assert.ErrorIs(t, err, feedback.ErrInvalidReaction)
}

func TestBoundedLimit(t *testing.T) {
	assert.Equal(t, 50, boundedLimit(0))
	assert.Equal(t, 10, boundedLimit(10))
	assert.Equal(t, maxHistoryLimit, boundedLimit(10_000))
}

type fakeCatalog struct {
	source string
	limit  int
	err    error
}

func (f *fakeCatalog) Documents(_ context.Context, source string, limit int) ([]neo4j.DocumentEntry, error) {
	f.source, f.limit = source, limit
	if f.err != nil {
		return nil, f.err
	}
	return []neo4j.DocumentEntry{{ID: "boot.pdf", Name: "boot.pdf", Type: "pdf", Source: source, Sections: []string{"Safe mode"}}}, nil
}

func TestCatalogListDocuments(t *testing.T) {
	catalog := &fakeCatalog{}
	app := fiber.New()
	app.Get("/catalog", NewCatalogHandler(catalog).ListDocuments)

	resp, err := app.Test(httptest.NewRequest("GET", "/catalog?source=gdrive&limit=5", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Documents []neo4j.DocumentEntry `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Documents, 1)
	assert.Equal(t, []string{"Safe mode"}, out.Documents[0].Sections)
	assert.Equal(t, "gdrive", catalog.source)
	assert.Equal(t, 5, catalog.limit)

	catalog.err = errors.New("neo4j down")
	resp, err = app.Test(httptest.NewRequest("GET", "/catalog", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

package handlers

import (
	"context"
	"iter"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/ingestion"
	"github.com/wintrouble/backend/internal/loader"
	"github.com/wintrouble/backend/internal/storage/models"
)

// Ingester runs the ingestion pipeline.
type Ingester interface {
	ProcessBatch(ctx context.Context, docs []models.DocumentDescriptor) []ingestion.Result
	Ingest(ctx context.Context, e ingestion.Enumerator) ([]ingestion.Result, error)
}

// IngestionHistory reads the ingestion ledger.
type IngestionHistory interface {
	List(ctx context.Context, limit int) ([]models.IngestionRecord, error)
	HistoryFor(ctx context.Context, source, documentID string) iter.Seq2[models.IngestionRecord, error]
}

type DocumentHandler struct {
	ingester   Ingester
	history    IngestionHistory
	uploadDir  string
	enumerator ingestion.Enumerator
	log        *zap.Logger
}

// NewDocumentHandler stores uploads under uploadDir. enumerator backs the
// directory ingest endpoint and may be nil to disable it.
func NewDocumentHandler(ingester Ingester, history IngestionHistory, uploadDir string, enumerator ingestion.Enumerator, log *zap.Logger) *DocumentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentHandler{
		ingester:   ingester,
		history:    history,
		uploadDir:  uploadDir,
		enumerator: enumerator,
		log:        log,
	}
}

// UploadDocuments saves every multipart file under a fresh batch directory
// and ingests them as one batch. The file name is the document id, so a
// later upload with the same name replaces the earlier version.
func (h *DocumentHandler) UploadDocuments(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Expected a multipart form")
	}
	files := append(form.File["files"], form.File["file"]...)
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "No files uploaded")
	}

	batchDir := filepath.Join(h.uploadDir, uuid.New().String())
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		h.log.Error("Failed to create upload directory", zap.String("dir", batchDir), zap.Error(err))
		return err
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(files))
	docs := make([]models.DocumentDescriptor, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid file name")
		}
		if seen[name] {
			return fiber.NewError(fiber.StatusBadRequest, "Duplicate file name: "+name)
		}
		seen[name] = true

		path := filepath.Join(batchDir, name)
		if err := c.SaveFile(fh, path); err != nil {
			h.log.Error("Failed to save upload", zap.String("file", name), zap.Error(err))
			return err
		}

		docs = append(docs, models.DocumentDescriptor{
			Source:       ingestion.SourceUpload,
			DocumentID:   name,
			DocumentType: uploadType(fh),
			DocumentName: name,
			LastModified: &now,
			Path:         path,
		})
	}

	h.log.Info("Documents uploaded", zap.String("batch_dir", batchDir), zap.Int("files", len(docs)))

	results := h.ingester.ProcessBatch(c.UserContext(), docs)
	return c.JSON(fiber.Map{
		"results": resultViews(results),
	})
}

// uploadType prefers the extension and falls back to a recognized part
// content type. Empty means the loader sniffs the content.
func uploadType(fh *multipart.FileHeader) string {
	if t, ok := loader.NormalizeType(filepath.Ext(fh.Filename)); ok {
		return t
	}
	if t, ok := loader.NormalizeType(fh.Header.Get(fiber.HeaderContentType)); ok {
		return t
	}
	return ""
}

// IngestDirectory ingests the configured document folder.
func (h *DocumentHandler) IngestDirectory(c *fiber.Ctx) error {
	if h.enumerator == nil {
		return fiber.NewError(fiber.StatusNotFound, "Directory ingestion is not configured")
	}

	results, err := h.ingester.Ingest(c.UserContext(), h.enumerator)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"results": resultViews(results),
	})
}

// IngestionHistory lists ledger rows newest first, either across all
// documents or for ?document_id=, optionally narrowed to ?source=.
func (h *DocumentHandler) IngestionHistory(c *fiber.Ctx) error {
	limit := boundedLimit(c.QueryInt("limit", 50))

	var records []models.IngestionRecord
	if docID := c.Query("document_id"); docID != "" {
		for rec, err := range h.history.HistoryFor(c.UserContext(), c.Query("source"), docID) {
			if err != nil {
				return err
			}
			records = append(records, rec)
			if len(records) == limit {
				break
			}
		}
	} else {
		var err error
		if records, err = h.history.List(c.UserContext(), limit); err != nil {
			return err
		}
	}
	if records == nil {
		records = []models.IngestionRecord{}
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}

type resultView struct {
	Source     string `json:"source"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
}

func resultViews(results []ingestion.Result) []resultView {
	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = resultView{
			Source:     r.Source,
			DocumentID: r.DocumentID,
			Name:       r.Name,
			Status:     string(r.Status),
			Chunks:     r.Chunks,
		}
		if r.Err != nil {
			views[i].Error = r.Err.Error()
		}
	}
	return views
}

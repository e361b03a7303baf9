package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/wintrouble/backend/internal/chunker"
	"github.com/wintrouble/backend/internal/llm"
	"github.com/wintrouble/backend/internal/loader"
	"github.com/wintrouble/backend/internal/storage/models"
	"github.com/wintrouble/backend/internal/storage/sqlite"
	"github.com/wintrouble/backend/internal/vector"
	"github.com/wintrouble/backend/internal/vector/memory"
)

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

// switchEmbedder wraps the hash embedder so tests can inject failures or block
// until the context is cancelled.
type switchEmbedder struct {
	mu      sync.Mutex
	inner   *llm.HashEmbedder
	err     error
	block   bool
	started chan struct{}
	calls   int
}

func newSwitchEmbedder() *switchEmbedder {
	return &switchEmbedder{inner: llm.NewHashEmbedder(64), started: make(chan struct{}, 16)}
}

func (s *switchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	err, block := s.err, s.block
	s.mu.Unlock()

	if block {
		s.started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return s.inner.EmbedBatch(ctx, texts)
}

func (s *switchEmbedder) set(err error, block bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err, s.block = err, block
}

func (s *switchEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeCatalog struct {
	mu       sync.Mutex
	err      error
	docs     []string
	sections map[string][]string
}

func (f *fakeCatalog) CatalogDocument(_ context.Context, doc models.DocumentDescriptor, sections []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sections == nil {
		f.sections = make(map[string][]string)
	}
	f.docs = append(f.docs, doc.DocumentID)
	f.sections[doc.DocumentID] = sections
	return f.err
}

type harness struct {
	dir      string
	ledger   *sqlite.IngestionLedger
	index    *memory.Index
	embedder *switchEmbedder
	proc     *Processor
}

func newHarness(t *testing.T, maxChars, overlap int) *harness {
	t.Helper()
	dir := t.TempDir()

	client, err := sqlite.Open(filepath.Join(dir, "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	splitter, err := chunker.New(maxChars, overlap)
	require.NoError(t, err)

	h := &harness{
		dir:      filepath.Join(dir, "docs"),
		ledger:   client.IngestionLedger(),
		index:    memory.New(),
		embedder: newSwitchEmbedder(),
	}
	require.NoError(t, os.MkdirAll(h.dir, 0o755))
	h.proc = NewProcessor(h.ledger, loader.NewRegistry(), splitter, NewWriter(h.embedder, h.index, zap.NewNop()), zap.NewNop())
	return h
}

func (h *harness) doc(t *testing.T, name, body string, modified *time.Time) models.DocumentDescriptor {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return models.DocumentDescriptor{
		Source:       SourceUpload,
		DocumentID:   name,
		DocumentName: name,
		LastModified: modified,
		Path:         path,
	}
}

func (h *harness) latest(t *testing.T, id string) *models.IngestionRecord {
	t.Helper()
	rec, err := h.ledger.Latest(context.Background(), SourceUpload, id)
	require.NoError(t, err)
	return rec
}

func (h *harness) ids(id string) []string {
	return h.index.IDs(SourceUpload, id)
}

var longText = strings.Repeat("Windows Update error 0x80070002 means files are missing. ", 12)

func TestDecide(t *testing.T) {
	success := func(lm *time.Time) *models.IngestionRecord {
		return &models.IngestionRecord{Status: models.IngestionSuccess, LastModified: lm}
	}
	failed := &models.IngestionRecord{Status: models.IngestionFailed, LastModified: day("2024-01-01")}

	assert.True(t, Decide(nil, nil))
	assert.True(t, Decide(nil, day("2024-01-01")))
	assert.True(t, Decide(failed, day("2023-01-01")))
	assert.True(t, Decide(failed, nil))
	assert.True(t, Decide(success(nil), day("2024-01-01")))
	assert.True(t, Decide(success(nil), nil))
	assert.True(t, Decide(success(day("2024-01-01")), day("2024-02-01")))
	assert.False(t, Decide(success(day("2024-01-01")), day("2024-01-01")))
	assert.False(t, Decide(success(day("2024-01-01")), day("2023-12-31")))
	assert.False(t, Decide(success(day("2024-01-01")), nil))
}

func TestDecideSuccessIsStrictlyNewer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		prev := base.Add(time.Duration(rapid.Int64Range(-1e6, 1e6).Draw(t, "prev")) * time.Second)
		next := base.Add(time.Duration(rapid.Int64Range(-1e6, 1e6).Draw(t, "next")) * time.Second)

		got := Decide(&models.IngestionRecord{Status: models.IngestionSuccess, LastModified: &prev}, &next)
		if got != next.After(prev) {
			t.Fatalf("Decide(success at %v, %v) = %v", prev, next, got)
		}
		if !Decide(&models.IngestionRecord{Status: models.IngestionFailed, LastModified: &prev}, &next) {
			t.Fatalf("a failed attempt must always be retried")
		}
	})
}

func TestDeciderPropagatesLedgerErrors(t *testing.T) {
	d := NewDecider(errHistory{})
	_, err := d.ShouldIngest(context.Background(), SourceLocalDir, "d1", nil)
	assert.ErrorIs(t, err, errLedgerDown)
}

var errLedgerDown = errors.New("ledger down")

type errHistory struct{}

func (errHistory) Latest(context.Context, string, string) (*models.IngestionRecord, error) {
	return nil, errLedgerDown
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "local_dir:d1_0", ChunkID(SourceLocalDir, "d1", 0))
	assert.Equal(t, "local_upload:guides/boot.pdf_12", ChunkID(SourceUpload, "guides/boot.pdf", 12))
	assert.NotEqual(t, ChunkID(SourceLocalDir, "guide.txt", 0), ChunkID(SourceUpload, "guide.txt", 0))
}

func TestReingestOnlyWhenModified(t *testing.T) {
	h := newHarness(t, 200, 40)
	ctx := context.Background()

	res := h.proc.ProcessDocument(ctx, h.doc(t, "d1.txt", longText, day("2024-01-01")))
	require.NoError(t, res.Err)
	assert.Equal(t, StatusIngested, res.Status)
	firstIDs := h.ids("d1.txt")
	require.Len(t, firstIDs, res.Chunks)
	assert.Equal(t, models.IngestionSuccess, h.latest(t, "d1.txt").Status)

	calls := h.embedder.callCount()
	res = h.proc.ProcessDocument(ctx, h.doc(t, "d1.txt", longText, day("2024-01-01")))
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, calls, h.embedder.callCount())
	assert.Equal(t, firstIDs, h.ids("d1.txt"))

	res = h.proc.ProcessDocument(ctx, h.doc(t, "d1.txt", "Short replacement text.", day("2024-02-01")))
	require.NoError(t, res.Err)
	assert.Equal(t, StatusIngested, res.Status)
	assert.Equal(t, []string{"local_upload:d1.txt_0"}, h.ids("d1.txt"))

	latest := h.latest(t, "d1.txt")
	assert.Equal(t, 1, latest.ChunkCount)
	assert.True(t, latest.LastModified.Equal(*day("2024-02-01")))

	var history int
	for _, err := range h.ledger.HistoryFor(ctx, SourceUpload, "d1.txt") {
		require.NoError(t, err)
		history++
	}
	assert.Equal(t, 2, history)
}

func TestReingestSameContentKeepsIDSet(t *testing.T) {
	h := newHarness(t, 150, 30)
	ctx := context.Background()

	h.proc.ProcessDocument(ctx, h.doc(t, "kb.txt", longText, day("2024-01-01")))
	before := h.ids("kb.txt")
	require.Greater(t, len(before), 1)

	res := h.proc.ProcessDocument(ctx, h.doc(t, "kb.txt", longText, day("2024-03-01")))
	require.Equal(t, StatusIngested, res.Status)
	assert.Equal(t, before, h.ids("kb.txt"))
	assert.Equal(t, len(before), h.index.Len())
}

func TestBatchContinuesPastUnsupportedDocument(t *testing.T) {
	h := newHarness(t, 200, 40)

	docs := []models.DocumentDescriptor{
		h.doc(t, "a.txt", "Reset the network adapter.", day("2024-01-01")),
		h.doc(t, "b.bin", "MZ\x00\x00\x01binary", day("2024-01-01")),
		h.doc(t, "c.md", "# Printer\nRestart the spooler.", day("2024-01-01")),
	}

	results := h.proc.ProcessBatch(context.Background(), docs)
	require.Len(t, results, 3)

	assert.Equal(t, StatusIngested, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, loader.ErrUnsupportedFormat)
	assert.Equal(t, StatusIngested, results[2].Status)

	assert.Equal(t, models.IngestionSuccess, h.latest(t, "a.txt").Status)
	failed := h.latest(t, "b.bin")
	assert.Equal(t, models.IngestionFailed, failed.Status)
	assert.Contains(t, failed.Error, "unsupported")
	assert.Equal(t, models.IngestionSuccess, h.latest(t, "c.md").Status)
	assert.Equal(t, "txt", h.latest(t, "c.md").DocumentType)

	assert.Empty(t, h.ids("b.bin"))
}

func TestFailedDocumentIsRetried(t *testing.T) {
	h := newHarness(t, 200, 40)
	ctx := context.Background()
	doc := h.doc(t, "x.txt", "Disk cleanup frees space.", day("2024-01-01"))

	h.embedder.set(errors.New("rate limited"), false)
	res := h.proc.ProcessDocument(ctx, doc)
	assert.Equal(t, StatusFailed, res.Status)

	h.embedder.set(nil, false)
	res = h.proc.ProcessDocument(ctx, doc)
	assert.Equal(t, StatusIngested, res.Status)
}

func TestEmbeddingFailureKeepsPreviousVectors(t *testing.T) {
	h := newHarness(t, 150, 30)
	ctx := context.Background()

	h.proc.ProcessDocument(ctx, h.doc(t, "d.txt", longText, day("2024-01-01")))
	before := h.ids("d.txt")
	require.NotEmpty(t, before)

	h.embedder.set(errors.New("quota exceeded"), false)
	res := h.proc.ProcessDocument(ctx, h.doc(t, "d.txt", "new text", day("2024-02-01")))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrEmbeddingFailure)
	assert.Equal(t, before, h.ids("d.txt"))

	latest := h.latest(t, "d.txt")
	assert.Equal(t, models.IngestionFailed, latest.Status)
	assert.Contains(t, latest.Error, "quota exceeded")
}

// failingIndex rejects every write while keeping reads on the wrapped index.
type failingIndex struct {
	vector.Index
	err error
}

func (f failingIndex) DeleteDocument(context.Context, string, string) error { return f.err }

func (f failingIndex) Upsert(context.Context, []vector.Point) error { return f.err }

func TestIndexWriteFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 150, 30)
	splitter, err := chunker.New(150, 30)
	require.NoError(t, err)
	index := failingIndex{Index: h.index, err: errors.New("collection not loaded")}
	proc := NewProcessor(h.ledger, loader.NewRegistry(), splitter, NewWriter(h.embedder, index, zap.NewNop()), zap.NewNop())

	res := proc.ProcessDocument(context.Background(), h.doc(t, "w.txt", "Some text.", day("2024-01-01")))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrIndexWriteFailure)
	assert.Equal(t, models.IngestionFailed, h.latest(t, "w.txt").Status)
}

func TestCancelledIngestionNeverRecordsSuccess(t *testing.T) {
	h := newHarness(t, 150, 30)
	h.embedder.set(nil, true)

	doc := h.doc(t, "c.txt", longText, day("2024-01-01"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		done <- h.proc.ProcessDocument(ctx, doc)
	}()

	<-h.embedder.started
	cancel()
	res := <-done

	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, h.ids("c.txt"))

	latest := h.latest(t, "c.txt")
	require.NotNil(t, latest)
	assert.Equal(t, models.IngestionFailed, latest.Status)
}

func TestEmptyDocumentFails(t *testing.T) {
	h := newHarness(t, 150, 30)
	res := h.proc.ProcessDocument(context.Background(), h.doc(t, "empty.txt", "   \n", day("2024-01-01")))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, loader.ErrExtraction)
}

func TestCatalogReceivesSectionsAndErrorsAreIgnored(t *testing.T) {
	h := newHarness(t, 500, 50)
	cat := &fakeCatalog{err: errors.New("neo4j unavailable")}
	h.proc.SetCataloger(cat)

	html := `<html><body><h1>Boot</h1><p>Use startup repair.</p><h2>Safe mode</h2><p>Press F8.</p></body></html>`
	res := h.proc.ProcessDocument(context.Background(), h.doc(t, "guide.html", html, day("2024-01-01")))

	assert.Equal(t, StatusIngested, res.Status)
	assert.Equal(t, []string{"guide.html"}, cat.docs)
	assert.Equal(t, []string{"Boot", "Safe mode"}, cat.sections["guide.html"])
}

func TestConcurrentRunsOnOneDocumentSerialize(t *testing.T) {
	h := newHarness(t, 150, 30)
	h.proc.SetWorkers(8)
	doc := h.doc(t, "same.txt", longText, day("2024-01-01"))

	docs := make([]models.DocumentDescriptor, 8)
	for i := range docs {
		docs[i] = doc
	}
	results := h.proc.ProcessBatch(context.Background(), docs)

	var ingested, skipped int
	for _, r := range results {
		switch r.Status {
		case StatusIngested:
			ingested++
		case StatusSkipped:
			skipped++
		}
	}
	assert.Equal(t, 1, ingested)
	assert.Equal(t, 7, skipped)
}

func TestDirEnumerator(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "guides"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "guides", "boot.pdf"), []byte("%PDF-"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("x"), 0o644))

	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "notes.txt"), mtime, mtime))

	docs, err := NewDirEnumerator(root, "").Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "guides/boot.pdf", docs[0].DocumentID)
	assert.Equal(t, "pdf", docs[0].DocumentType)
	assert.Equal(t, "boot.pdf", docs[0].DocumentName)
	assert.Equal(t, SourceLocalDir, docs[0].Source)

	assert.Equal(t, "notes.txt", docs[1].DocumentID)
	require.NotNil(t, docs[1].LastModified)
	assert.True(t, docs[1].LastModified.Equal(mtime))
}

func TestIngestFromDirectory(t *testing.T) {
	h := newHarness(t, 200, 40)
	h.doc(t, "one.txt", "Flush DNS with ipconfig.", nil)
	h.doc(t, "two.txt", "Run chkdsk on the system drive.", nil)

	results, err := h.proc.Ingest(context.Background(), NewDirEnumerator(h.dir, ""))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StatusIngested, r.Status, r.DocumentID)
	}

	results, err = h.proc.Ingest(context.Background(), NewDirEnumerator(h.dir, ""))
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, StatusSkipped, r.Status, r.DocumentID)
	}
}

func TestSameNameFromTwoSourcesStaysSeparate(t *testing.T) {
	h := newHarness(t, 200, 40)
	ctx := context.Background()

	path := filepath.Join(h.dir, "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("Directory copy: flush the DNS cache."), 0o644))
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	dir := NewDirEnumerator(h.dir, "")
	results, err := h.proc.Ingest(ctx, dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, StatusIngested, results[0].Status)

	upload := h.doc(t, "upload-guide.txt", "Uploaded copy: reset winsock.", day("2024-06-01"))
	upload.DocumentID = "guide.txt"
	res := h.proc.ProcessDocument(ctx, upload)
	require.Equal(t, StatusIngested, res.Status)

	assert.Equal(t, []string{"local_dir:guide.txt_0"}, h.index.IDs(SourceLocalDir, "guide.txt"))
	assert.Equal(t, []string{"local_upload:guide.txt_0"}, h.index.IDs(SourceUpload, "guide.txt"))

	results, err = h.proc.Ingest(ctx, dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.DocumentID == "guide.txt" {
			assert.Equal(t, StatusSkipped, r.Status)
		}
	}
	assert.Equal(t, []string{"local_dir:guide.txt_0"}, h.index.IDs(SourceLocalDir, "guide.txt"))

	latest, err := h.ledger.Latest(ctx, SourceLocalDir, "guide.txt")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.IngestionSuccess, latest.Status)
	assert.True(t, latest.LastModified.Equal(mtime))
}

func TestSourceWithColonIsRejected(t *testing.T) {
	h := newHarness(t, 200, 40)
	doc := h.doc(t, "a.txt", "Reset the network adapter.", day("2024-01-01"))
	doc.Source = "drive:shared"

	res := h.proc.ProcessDocument(context.Background(), doc)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, h.index.Len())
}

func TestPersistentIndexSurvivesRestart(t *testing.T) {
	h := newHarness(t, 200, 40)
	ctx := context.Background()
	snapshot := filepath.Join(t.TempDir(), "vectors.gob")
	splitter, err := chunker.New(200, 40)
	require.NoError(t, err)

	start := func() (*Processor, *memory.Index) {
		idx, err := memory.Open(snapshot)
		require.NoError(t, err)
		return NewProcessor(h.ledger, loader.NewRegistry(), splitter, NewWriter(h.embedder, idx, zap.NewNop()), zap.NewNop()), idx
	}

	proc, _ := start()
	doc := h.doc(t, "net.txt", "Reset winsock with netsh.", day("2024-01-01"))
	require.Equal(t, StatusIngested, proc.ProcessDocument(ctx, doc).Status)

	proc, idx := start()
	assert.Equal(t, StatusSkipped, proc.ProcessDocument(ctx, doc).Status)
	assert.Equal(t, []string{"local_upload:net.txt_0"}, idx.IDs(SourceUpload, "net.txt"))

	vecs, err := h.embedder.EmbedBatch(ctx, []string{"Reset winsock with netsh."})
	require.NoError(t, err)
	hits, err := idx.Search(ctx, vecs[0], 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "net.txt", hits[0].DocumentID)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)

	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(waitCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		unlock, err := k.Lock(ctx, "a")
		if err == nil {
			unlock()
		}
		close(acquired)
	}()

	unlockA()
	<-acquired
	assert.Equal(t, 0, k.size())
}

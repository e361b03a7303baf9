// Package memory is an in-process vector index. Opened with a snapshot path it
// survives restarts; New keeps everything in memory for tests.
package memory

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/wintrouble/backend/internal/vector"
)

const snapshotVersion = 1

type snapshot struct {
	Version int
	Points  []vector.Point
}

type Index struct {
	mu     sync.RWMutex
	points map[string]vector.Point
	// path is the snapshot file rewritten after every write; empty means
	// nothing is persisted.
	path string
}

func New() *Index {
	return &Index{points: make(map[string]vector.Point)}
}

// Open loads the snapshot at path when it exists. Every later write replaces
// the snapshot before it becomes visible to Search.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	m := &Index{points: make(map[string]vector.Point), path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vector snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode vector snapshot %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("vector snapshot %s has version %d, want %d", path, snap.Version, snapshotVersion)
	}
	for _, p := range snap.Points {
		m.points[p.ID] = p
	}
	return m, nil
}

func (m *Index) EnsureCollection(context.Context) error { return nil }

func (m *Index) Close() error { return nil }

func (m *Index) DeleteDocument(ctx context.Context, source, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := maps.Clone(m.points)
	for id, p := range next {
		if p.Source == source && p.DocumentID == documentID {
			delete(next, id)
		}
	}
	return m.commit(next)
}

func (m *Index) Upsert(ctx context.Context, points []vector.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := maps.Clone(m.points)
	for _, p := range points {
		if p.ID == "" {
			return errors.New("point id is required")
		}
		p.Vector = slices.Clone(p.Vector)
		next[p.ID] = p
	}
	return m.commit(next)
}

// commit persists next and then swaps it in. Callers hold m.mu.
func (m *Index) commit(next map[string]vector.Point) error {
	if m.path != "" {
		if err := m.save(next); err != nil {
			return err
		}
	}
	m.points = next
	return nil
}

func (m *Index) save(points map[string]vector.Point) error {
	snap := snapshot{Version: snapshotVersion, Points: make([]vector.Point, 0, len(points))}
	for _, p := range points {
		snap.Points = append(snap.Points, p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create vector snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write vector snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write vector snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace vector snapshot: %w", err)
	}
	return nil
}

func (m *Index) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	hits := make([]vector.Hit, 0, len(m.points))
	for _, p := range m.points {
		hits = append(hits, vector.Hit{Point: p, Score: vector.Cosine(query, p.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// IDs returns the sorted chunk ids stored for one document.
func (m *Index) IDs(source, documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, p := range m.points {
		if p.Source == source && p.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Index) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Package mirror keeps a local JSON file in step with an editing session:
// saved changes are exported to the file, and edits made to the file are
// imported into the session.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/checksum"
	"github.com/starford/piko/internal/editor"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/syncer"
)

// DefaultDebounce is how long the file must stay unchanged before it is imported.
const DefaultDebounce = 200 * time.Millisecond

// Document is the on-disk form of a mirrored project.
type Document struct {
	ProjectID string        `json:"projectId"`
	Title     string        `json:"title"`
	Nodes     []models.Node `json:"nodes"`
	Edges     []models.Edge `json:"edges"`
}

// Graph returns the document's graph.
func (d Document) Graph() models.Graph {
	return models.Graph{Nodes: d.Nodes, Edges: d.Edges}.Normalize()
}

// Mirror ties one file to one session.
type Mirror struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	exportCh chan struct{}

	mu      sync.Mutex
	session *editor.Session
	written string // checksum of the last content this mirror wrote
}

// New creates a mirror of path. Pass OnStatus to editor.Options before
// opening the session, then call Run with it.
func New(path string, debounce time.Duration, logger *slog.Logger) *Mirror {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		path:     path,
		debounce: debounce,
		logger:   logger,
		exportCh: make(chan struct{}, 1),
	}
}

// OnStatus schedules an export whenever either channel reaches saved.
func (m *Mirror) OnStatus(_ editor.Channel, st syncer.Status, _ error) {
	if st != syncer.StatusSaved {
		return
	}
	select {
	case m.exportCh <- struct{}{}:
	default:
	}
}

// Run exports the current session state, then keeps file and session in
// step until ctx is cancelled. The stored graph wins at start.
func (m *Mirror) Run(ctx context.Context, s *editor.Session) error {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	if err := m.Export(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.watch(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-m.exportCh:
				if err := m.Export(); err != nil {
					m.logger.Warn("mirror: export failed", slog.String("path", m.path), slog.String("error", err.Error()))
				}
			}
		}
	})
	return g.Wait()
}

// Export writes the session's title and graph to the file.
func (m *Mirror) Export() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return errors.New("mirror: no session")
	}

	snap := m.session.Snapshot()
	doc := Document{
		ProjectID: m.session.ProjectID(),
		Title:     strings.TrimSpace(m.session.Title()),
		Nodes:     snap.Nodes,
		Edges:     snap.Edges,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("mirror: encode: %w", err)
	}
	raw = append(raw, '\n')
	if err := media.WriteAtomic(m.path, raw); err != nil {
		return fmt.Errorf("mirror: write: %w", err)
	}
	m.written = checksum.Sum(raw)
	m.logger.Debug("mirror: exported", slog.String("path", m.path), slog.Int("nodes", len(doc.Nodes)))
	return nil
}

// Import reads the file and applies it to the session. Content this mirror
// wrote itself is ignored, as is a graph identical to the session's.
func (m *Mirror) Import() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("mirror: read: %w", err)
	}

	m.mu.Lock()
	s, own := m.session, checksum.Sum(raw) == m.written
	m.mu.Unlock()
	if s == nil {
		return errors.New("mirror: no session")
	}
	if own {
		return nil
	}
	if !s.CanEdit() {
		return fmt.Errorf("%w: session is read-only", apperr.ErrForbidden)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrValidation, m.path, err)
	}
	if doc.ProjectID != "" && doc.ProjectID != s.ProjectID() {
		return fmt.Errorf("%w: file belongs to project %q", apperr.ErrValidation, doc.ProjectID)
	}

	incoming, err := checksum.Graph(doc.Graph())
	if err != nil {
		return err
	}
	current, err := checksum.Graph(s.Snapshot())
	if err != nil {
		return err
	}
	if incoming != current {
		if err := s.Replace(doc.Graph()); err != nil {
			return err
		}
		m.logger.Info("mirror: imported graph", slog.String("path", m.path), slog.Int("nodes", len(doc.Nodes)))
	}
	if t := strings.TrimSpace(doc.Title); t != "" && t != strings.TrimSpace(s.Title()) {
		if err := s.SetTitle(t); err != nil {
			return err
		}
		m.logger.Info("mirror: imported title", slog.String("title", t))
	}
	return nil
}

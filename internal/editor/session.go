// Package editor binds a graph state to its two debounced save channels:
// the graph itself and the project title.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/graph"
	"github.com/starford/piko/internal/metrics"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/syncer"
)

// Remote is the persistence boundary of a session. client.Client talks HTTP;
// projectservice.Local calls the service in process.
type Remote interface {
	Project(ctx context.Context, projectID string) (models.ProjectView, error)
	LoadGraph(ctx context.Context, projectID string) (models.Graph, error)
	SaveGraph(ctx context.Context, projectID string, g models.Graph) error
	RenameProject(ctx context.Context, projectID, name string) error
}

// Channel identifies one of the two save channels.
type Channel string

const (
	ChannelGraph Channel = "graph"
	ChannelTitle Channel = "title"
)

// Options configure a Session.
type Options struct {
	Quiet time.Duration
	Hold  time.Duration
	// OnStatus observes status changes of both channels.
	OnStatus func(Channel, syncer.Status, error)
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	// NewNodeID and NewEdgeID are passed to the graph state.
	NewNodeID func(models.NodeKind) string
	NewEdgeID func() string
}

// Session is one open project.
type Session struct {
	*graph.State

	remote    Remote
	projectID string
	canEdit   bool
	logger    *slog.Logger

	graphSync *syncer.Controller
	titleSync *syncer.Controller

	mu         sync.Mutex
	title      string // desired
	sent       string // last name handed to the remote
	sentGen    uint64
	persisted  string // last name known to be stored
	hydrateErr error
}

// Open loads the project view, hydrates the graph and starts both save
// channels. A failed graph load leaves the session on an empty graph; the
// error is available from HydrateError. Failure to load the project view
// itself is returned.
func Open(ctx context.Context, remote Remote, projectID string, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	view, err := remote.Project(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("editor: open %s: %w", projectID, err)
	}

	s := &Session{
		remote:    remote,
		projectID: projectID,
		canEdit:   view.Capabilities.Write,
		logger:    opts.Logger.With(slog.String("project", projectID)),
		title:     view.Name,
		sent:      view.Name,
		persisted: view.Name,
	}
	s.State = graph.New(graph.Options{
		Writable:  s.canEdit,
		NewNodeID: opts.NewNodeID,
		NewEdgeID: opts.NewEdgeID,
	})

	enabled := func() bool { return s.canEdit }
	status := func(ch Channel) func(syncer.Status, error) {
		if opts.OnStatus == nil {
			return nil
		}
		return func(st syncer.Status, err error) { opts.OnStatus(ch, st, err) }
	}

	s.graphSync = syncer.New(syncer.Options{
		Channel:  string(ChannelGraph),
		Quiet:    opts.Quiet,
		Hold:     opts.Hold,
		Persist:  s.persistGraph,
		Enabled:  enabled,
		OnStatus: status(ChannelGraph),
		Metrics:  opts.Metrics,
		Logger:   s.logger,
	})
	s.titleSync = syncer.New(syncer.Options{
		Channel:       string(ChannelTitle),
		Quiet:         opts.Quiet,
		Hold:          opts.Hold,
		Persist:       s.persistTitle,
		ShouldPersist: s.titleChanged,
		Enabled:       enabled,
		OnStatus:      status(ChannelTitle),
		Metrics:       opts.Metrics,
		Logger:        s.logger,
	})

	hErr := s.State.Hydrate(ctx, func(ctx context.Context) (models.Graph, error) {
		return remote.LoadGraph(ctx, projectID)
	})
	if hErr != nil {
		s.logger.Warn("editor: hydrate failed, starting empty", slog.String("error", hErr.Error()))
		s.hydrateErr = hErr
	}
	s.State.SetOnDirty(s.graphSync.Trigger)
	return s, nil
}

// ProjectID returns the id of the open project.
func (s *Session) ProjectID() string { return s.projectID }

// CanEdit reports whether the actor may write the graph and title.
func (s *Session) CanEdit() bool { return s.canEdit }

// HydrateError returns the graph load error, if the session started empty
// because of one.
func (s *Session) HydrateError() error { return s.hydrateErr }

// Title returns the current (possibly not yet saved) title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle records a new project title and schedules its save. Whitespace is
// trimmed; an empty or unchanged title is not sent.
func (s *Session) SetTitle(title string) error {
	if !s.canEdit {
		return apperr.ErrForbidden
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	s.titleSync.Trigger()
	return nil
}

// GraphStatus returns the save status of the graph channel.
func (s *Session) GraphStatus() syncer.Status { return s.graphSync.Status() }

// TitleStatus returns the save status of the title channel.
func (s *Session) TitleStatus() syncer.Status { return s.titleSync.Status() }

// GraphError returns the last graph save failure, if any.
func (s *Session) GraphError() error { return s.graphSync.LastError() }

// Dirty reports whether either channel holds unsaved changes.
func (s *Session) Dirty() bool {
	return s.graphSync.Dirty() || s.titleSync.Dirty()
}

// Flush saves pending changes of both channels now.
func (s *Session) Flush(ctx context.Context) error {
	return errors.Join(s.graphSync.Flush(ctx), s.titleSync.Flush(ctx))
}

// Close stops both channels and aborts in-flight saves. Unsaved changes are
// dropped; call Flush first to keep them.
func (s *Session) Close() {
	s.graphSync.Close()
	s.titleSync.Close()
}

func (s *Session) persistGraph(ctx context.Context) error {
	return s.remote.SaveGraph(ctx, s.projectID, s.State.Snapshot())
}

// titleChanged compares against the last title sent, not the last one
// confirmed, so reverting while a rename is in flight sends the revert.
// A true result claims the title for the attempt about to start.
func (s *Session) titleChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := strings.TrimSpace(s.title)
	if t == "" || t == s.sent {
		return false
	}
	s.sent = t
	s.sentGen++
	return true
}

func (s *Session) persistTitle(ctx context.Context) error {
	s.mu.Lock()
	t, gen := s.sent, s.sentGen
	s.mu.Unlock()

	err := s.remote.RenameProject(ctx, s.projectID, t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.sentGen {
		// A newer title has been sent since.
		return err
	}
	if err != nil {
		s.sent = s.persisted
		return err
	}
	s.persisted = t
	return nil
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starford/piko/internal/access"
	"github.com/starford/piko/internal/client"
	"github.com/starford/piko/internal/editor"
	"github.com/starford/piko/internal/mcpserver"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/mirror"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/store"
	"github.com/starford/piko/internal/syncer"
)

const flushTimeout = 10 * time.Second

// RunMCP serves the MCP tools for one project on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	s, local, closeFn, err := app.openSession(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	var ms *media.Store
	if local {
		if ms, err = media.NewStore(app.config.Media.Path); err != nil {
			return fmt.Errorf("init media: %w", err)
		}
	}

	logger.Info("mcp: serving", slog.String("project", s.ProjectID()), slog.Bool("can_edit", s.CanEdit()))
	return mcpserver.New(s, ms, logger).ServeStdio()
}

// RunMirror keeps a local JSON file and one project in step until interrupted.
func RunMirror(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.mirror == "" {
		return errors.New("mirror: file path is required")
	}
	logger := app.logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := mirror.New(app.mirror, mirror.DefaultDebounce, logger)
	s, _, closeFn, err := app.openSession(ctx, logger, m.OnStatus)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("mirror: started", slog.String("project", s.ProjectID()), slog.String("path", app.mirror))
	return m.Run(ctx, s)
}

// openSession opens the target project through HTTP when a server URL is
// set, otherwise against the local database. The returned func flushes
// pending saves and releases everything.
func (a *application) openSession(ctx context.Context, logger *slog.Logger,
	onStatus func(editor.Channel, syncer.Status, error),
) (*editor.Session, bool, func(), error) {
	t := a.target
	if t.ProjectID == "" {
		return nil, false, nil, errors.New("project id is required")
	}

	var (
		remote  editor.Remote
		cleanup = func() {}
		local   = t.ServerURL == ""
	)
	switch {
	case !local && t.Token != "":
		remote = client.New(t.ServerURL, client.WithBearer(t.Token))
	case !local:
		remote = client.New(t.ServerURL, client.WithUser(t.Actor))
	default:
		if t.Actor == "" {
			return nil, false, nil, errors.New("user id is required for a local session")
		}
		db, err := store.Open(a.config.SQLite.Path)
		if err != nil {
			return nil, false, nil, fmt.Errorf("init store: %w", err)
		}
		svc := projectservice.NewService(db, access.NewGate(db, nil, logger), nil, nil, logger)
		remote = svc.As(t.Actor)
		cleanup = func() { db.Close() }
	}

	s, err := editor.Open(ctx, remote, t.ProjectID, editor.Options{
		Quiet:    a.config.Sync.Debounce,
		Hold:     a.config.Sync.SavedHold,
		OnStatus: logStatus(logger, onStatus),
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, false, nil, err
	}

	closeFn := func() {
		fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := s.Flush(fctx); err != nil {
			logger.Warn("session: final flush failed", slog.String("error", err.Error()))
		}
		s.Close()
		cleanup()
	}
	return s, local, closeFn, nil
}

func logStatus(logger *slog.Logger, next func(editor.Channel, syncer.Status, error)) func(editor.Channel, syncer.Status, error) {
	return func(ch editor.Channel, st syncer.Status, err error) {
		if err != nil {
			logger.Warn("session: save failed", slog.String("channel", string(ch)), slog.String("error", err.Error()))
		} else {
			logger.Debug("session: status", slog.String("channel", string(ch)), slog.String("status", string(st)))
		}
		if next != nil {
			next(ch, st, err)
		}
	}
}

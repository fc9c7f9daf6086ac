// Package projectservice applies the access gate to every project and graph
// operation and keeps subscribers informed of changes.
package projectservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/piko/internal/access"
	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/checksum"
	"github.com/starford/piko/internal/metrics"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/sse"
	"github.com/starford/piko/internal/store"
)

const maxNameLen = 120

// Notifier receives change events. *sse.Broker implements it.
type Notifier interface {
	ProjectEvent(projectID, kind string, data any)
}

// GraphDoc is a graph together with its content tag.
type GraphDoc struct {
	Graph    models.Graph
	Checksum string
}

// Service coordinates the gate, the store and the notifier.
type Service struct {
	store   store.Store
	gate    *access.Gate
	notify  Notifier
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewService creates a project service. notify and m may be nil.
func NewService(st store.Store, gate *access.Gate, notify Notifier, m *metrics.Collector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, gate: gate, notify: notify, metrics: m, logger: logger}
}

// CreateProject creates a project owned by actor with an empty graph. The
// name is trimmed and must be at least two characters.
func (s *Service) CreateProject(ctx context.Context, actor, name string) (*models.Project, error) {
	if actor == "" {
		return nil, apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if err := validation.Validate(name,
		validation.Required.Error("name is required"),
		validation.RuneLength(2, maxNameLen).Error("name must be at least 2 characters"),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	p := models.Project{ID: models.NewProjectID(), Name: name, OwnerID: actor}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("project: created", slog.String("id", p.ID), slog.String("owner", actor))
	return &p, nil
}

// Project returns the session view of a project, including the actor's
// capabilities on it.
func (s *Service) Project(ctx context.Context, actor, id string) (*models.ProjectView, error) {
	caps, err := s.gate.Capabilities(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	p, err := s.store.Project(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ProjectView{
		ID:           p.ID,
		Name:         p.Name,
		OwnerID:      p.OwnerID,
		UpdatedAt:    p.UpdatedAt,
		Capabilities: caps,
	}, nil
}

// RenameProject sets a new display name. The name is trimmed and must not be empty.
func (s *Service) RenameProject(ctx context.Context, actor, id, name string) (*models.Project, error) {
	if err := s.gate.Authorize(ctx, actor, id, models.CapWrite); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := validation.Validate(name,
		validation.Required.Error("name is required"),
		validation.RuneLength(1, maxNameLen),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := s.store.RenameProject(ctx, id, name); err != nil {
		return nil, err
	}
	s.emit(id, sse.EventProjectRenamed, map[string]string{"id": id, "name": name})
	return &models.Project{ID: id, Name: name}, nil
}

// DeleteProject removes the project and every graph version. Owner only.
func (s *Service) DeleteProject(ctx context.Context, actor, id string) error {
	if err := s.gate.Authorize(ctx, actor, id, models.CapDelete); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.logger.Info("project: deleted", slog.String("id", id), slog.String("actor", actor))
	s.emit(id, sse.EventProjectDeleted, map[string]string{"id": id})
	return nil
}

// LoadGraph returns the current graph of the project, empty if never saved.
func (s *Service) LoadGraph(ctx context.Context, actor, id string) (GraphDoc, error) {
	if err := s.gate.Authorize(ctx, actor, id, models.CapRead); err != nil {
		return GraphDoc{}, err
	}
	g, err := s.store.LoadGraph(ctx, id, models.CurrentVersion)
	if err != nil {
		return GraphDoc{}, err
	}
	sum, err := s.store.GraphChecksum(ctx, id, models.CurrentVersion)
	if err != nil {
		return GraphDoc{}, err
	}
	return GraphDoc{Graph: g, Checksum: sum}, nil
}

// SaveGraph validates g and replaces the stored graph wholesale. When ifMatch
// is non-empty it must equal the stored checksum, otherwise apperr.ErrConflict
// is returned; without it the last writer wins.
func (s *Service) SaveGraph(ctx context.Context, actor, id string, g models.Graph, ifMatch string) (string, error) {
	if err := s.gate.Authorize(ctx, actor, id, models.CapWrite); err != nil {
		return "", err
	}
	g = g.Normalize()
	if err := g.Validate(); err != nil {
		return "", err
	}
	var err error
	if ifMatch != "" {
		err = s.store.SaveGraphIfMatch(ctx, id, models.CurrentVersion, g, ifMatch)
	} else {
		err = s.store.SaveGraph(ctx, id, models.CurrentVersion, g)
	}
	s.metrics.GraphSaved(len(g.Nodes), err)
	if err != nil {
		return "", err
	}
	sum, err := checksum.Graph(g)
	if err != nil {
		return "", err
	}
	s.emit(id, sse.EventGraphSaved, map[string]any{
		"id":       id,
		"checksum": sum,
		"nodes":    len(g.Nodes),
		"edges":    len(g.Edges),
		"actor":    actor,
	})
	return sum, nil
}

// PutMember grants role on the project to userID. Owner only.
func (s *Service) PutMember(ctx context.Context, actor, id, userID string, role models.Role) error {
	if err := s.gate.Authorize(ctx, actor, id, models.CapDelete); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	return s.store.PutMember(ctx, id, userID, role)
}

// RemoveMember revokes userID's membership. Owner only.
func (s *Service) RemoveMember(ctx context.Context, actor, id, userID string) error {
	if err := s.gate.Authorize(ctx, actor, id, models.CapDelete); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, id, userID); err != nil {
		return err
	}
	s.emit(id, sse.EventMemberRemoved, sse.MemberRemoved{ProjectID: id, UserID: userID})
	return nil
}

func (s *Service) emit(id, kind string, data any) {
	if s.notify == nil {
		return
	}
	s.notify.ProjectEvent(id, kind, data)
}

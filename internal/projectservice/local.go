package projectservice

import (
	"context"

	"github.com/starford/piko/internal/models"
)

// Local is an in-process editing remote bound to one actor. It is what the
// mcp and mirror commands edit through when they run next to the database.
type Local struct {
	svc   *Service
	actor string
}

// As returns a Local that performs every call as actor.
func (s *Service) As(actor string) *Local {
	return &Local{svc: s, actor: actor}
}

// Project returns the project view for the bound actor.
func (l *Local) Project(ctx context.Context, projectID string) (models.ProjectView, error) {
	v, err := l.svc.Project(ctx, l.actor, projectID)
	if err != nil {
		return models.ProjectView{}, err
	}
	return *v, nil
}

// LoadGraph returns the stored graph.
func (l *Local) LoadGraph(ctx context.Context, projectID string) (models.Graph, error) {
	doc, err := l.svc.LoadGraph(ctx, l.actor, projectID)
	if err != nil {
		return models.Graph{}, err
	}
	return doc.Graph, nil
}

// SaveGraph replaces the stored graph, last writer wins.
func (l *Local) SaveGraph(ctx context.Context, projectID string, g models.Graph) error {
	_, err := l.svc.SaveGraph(ctx, l.actor, projectID, g, "")
	return err
}

// RenameProject sets the project name.
func (l *Local) RenameProject(ctx context.Context, projectID, name string) error {
	_, err := l.svc.RenameProject(ctx, l.actor, projectID, name)
	return err
}

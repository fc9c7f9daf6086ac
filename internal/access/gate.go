// Package access decides what an actor may do with a project.
//
// The gate is a pure predicate over the directory: every call reads ownership
// and membership afresh, nothing is cached between calls.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/metrics"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/store"
)

// Gate evaluates capabilities against a store.Directory.
type Gate struct {
	dir     store.Directory
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewGate creates a gate. metrics may be nil.
func NewGate(dir store.Directory, m *metrics.Collector, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{dir: dir, metrics: m, logger: logger}
}

// Capabilities resolves the full capability set of actorID on projectID.
//
// It fails with apperr.ErrUnauthenticated when actorID is empty and with
// apperr.ErrNotFound when the project does not exist or the actor has no
// relationship to it at all; the two cases are indistinguishable to callers.
func (g *Gate) Capabilities(ctx context.Context, actorID, projectID string) (models.Capabilities, error) {
	if actorID == "" {
		return models.Capabilities{}, apperr.ErrUnauthenticated
	}
	p, err := g.dir.Project(ctx, projectID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Capabilities{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Capabilities{}, fmt.Errorf("access: load project: %w", err)
	}
	if p.OwnerID == actorID {
		return models.Capabilities{Read: true, Write: true, Delete: true}, nil
	}

	role, ok, err := g.dir.MemberRole(ctx, projectID, actorID)
	if err != nil {
		return models.Capabilities{}, fmt.Errorf("access: member role: %w", err)
	}
	if !ok {
		return models.Capabilities{}, apperr.ErrNotFound
	}
	return models.Capabilities{Read: true, Write: role.CanWrite()}, nil
}

// Authorize returns nil when actorID holds capability on projectID.
// Readers lacking the capability get apperr.ErrForbidden.
func (g *Gate) Authorize(ctx context.Context, actorID, projectID string, capability models.Capability) error {
	caps, err := g.Capabilities(ctx, actorID, projectID)
	if err == nil && !caps.Allows(capability) {
		err = apperr.ErrForbidden
	}
	g.record(actorID, projectID, capability, err)
	return err
}

func (g *Gate) record(actorID, projectID string, capability models.Capability, err error) {
	decision := "allow"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrUnauthenticated):
		decision = "unauthenticated"
	case errors.Is(err, apperr.ErrNotFound):
		decision = "not_found"
	case errors.Is(err, apperr.ErrForbidden):
		decision = "forbidden"
	default:
		decision = "error"
	}
	g.metrics.AuthzDecision(string(capability), decision)
	g.logger.Debug("access: decision",
		slog.String("actor", actorID),
		slog.String("project", projectID),
		slog.String("capability", string(capability)),
		slog.String("decision", decision))
}

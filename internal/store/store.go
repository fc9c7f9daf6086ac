package store

import (
	"context"

	"github.com/starford/piko/internal/models"
)

// Directory resolves ownership and membership. The access gate depends on it.
type Directory interface {
	Project(ctx context.Context, id string) (*models.Project, error)
	MemberRole(ctx context.Context, projectID, userID string) (models.Role, bool, error)
}

// GraphStore is durable keyed storage for project graphs. Reads of a key that
// was never written return an empty graph.
type GraphStore interface {
	LoadGraph(ctx context.Context, projectID string, version int) (models.Graph, error)
	SaveGraph(ctx context.Context, projectID string, version int, g models.Graph) error
	SaveGraphIfMatch(ctx context.Context, projectID string, version int, g models.Graph, ifMatch string) error
	GraphChecksum(ctx context.Context, projectID string, version int) (string, error)
}

// Store is everything the project service needs.
type Store interface {
	Directory
	GraphStore
	CreateProject(ctx context.Context, p models.Project) error
	RenameProject(ctx context.Context, id, name string) error
	DeleteProject(ctx context.Context, id string) error
	PutMember(ctx context.Context, projectID, userID string, role models.Role) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// Package models defines the domain types for Piko.
package models

import (
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the only graph version a project has today. The store keys
// graphs by (project, version) so history can be added without a migration.
const CurrentVersion = 1

// Role is a membership grant layered on top of project ownership.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role grants write access to the graph.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

// Capability is the unit granted or denied by the access gate.
type Capability string

const (
	CapRead   Capability = "read"
	CapWrite  Capability = "write"
	CapDelete Capability = "delete"
)

// Capabilities is the resolved set for one actor on one project.
type Capabilities struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Delete bool `json:"delete"`
}

// Allows reports whether c includes the given capability.
func (c Capabilities) Allows(cp Capability) bool {
	switch cp {
	case CapRead:
		return c.Read
	case CapWrite:
		return c.Write
	case CapDelete:
		return c.Delete
	}
	return false
}

// Member is one membership row.
type Member struct {
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project is a canvas owned by exactly one user.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Members   []Member  `json:"members,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectView is what an editing session needs to know about its project.
type ProjectView struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	OwnerID      string       `json:"ownerId"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Capabilities Capabilities `json:"capabilities"`
}

// NewProjectID returns a fresh project identifier.
func NewProjectID() string {
	return uuid.NewString()
}

package api

import (
	"time"

	"github.com/starford/piko/internal/models"
)

// NameRequest is the body of POST /projects and PATCH /projects/{id}.
type NameRequest struct {
	Name string `json:"name"`
}

// ProjectRef is the short project representation returned by create and rename.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectResponse is the body of GET /projects/{id}.
type ProjectResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	OwnerID      string              `json:"ownerId"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	Capabilities models.Capabilities `json:"capabilities"`
}

// MemberRequest is the body of PUT /projects/{id}/members/{userId}.
type MemberRequest struct {
	Role models.Role `json:"role"`
}

// OKResponse acknowledges a write.
type OKResponse struct {
	OK bool `json:"ok"`
}

// UploadResponse describes a stored attachment.
type UploadResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/sse"
)

const maxGraphBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *projectservice.Service
	broker *sse.Broker
}

// NewHandler creates a new Handler. broker may be nil, which disables the
// event stream.
func NewHandler(svc *projectservice.Service, broker *sse.Broker) *Handler {
	return &Handler{svc: svc, broker: broker}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxGraphBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// CreateProject handles POST /api/projects.
//
//	@Summary		Create a project with an empty graph
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NameRequest	true	"Project name (at least 2 characters)"
//	@Success		201		{object}	ProjectRef
//	@Failure		400		{object}	errResponse
//	@Router			/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.svc.CreateProject(r.Context(), identity.Actor(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, ProjectRef{ID: p.ID, Name: p.Name})
}

// GetProject handles GET /api/projects/{id}.
//
//	@Summary		Get a project and the caller's capabilities on it
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	ProjectResponse
//	@Failure		404	{object}	errResponse
//	@Router			/projects/{id} [get]
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Project(r.Context(), identity.Actor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectResponse{
		ID:           v.ID,
		Name:         v.Name,
		OwnerID:      v.OwnerID,
		UpdatedAt:    v.UpdatedAt,
		Capabilities: v.Capabilities,
	})
}

// RenameProject handles PATCH /api/projects/{id}.
//
//	@Summary		Rename a project
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Project ID"
//	@Param			body	body		NameRequest	true	"New name"
//	@Success		200		{object}	ProjectRef
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Router			/projects/{id} [patch]
func (h *Handler) RenameProject(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.svc.RenameProject(r.Context(), identity.Actor(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, r, "rename project", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectRef{ID: p.ID, Name: p.Name})
}

// DeleteProject handles DELETE /api/projects/{id}.
//
//	@Summary		Delete a project and all its graph versions
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	OKResponse
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Router			/projects/{id} [delete]
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProject(r.Context(), identity.Actor(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "delete project", err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// GetGraph handles GET /api/projects/{id}/graph.
//
//	@Summary		Get the project graph
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	models.Graph
//	@Header			200	{string}	ETag	"Graph checksum"
//	@Failure		404	{object}	errResponse
//	@Router			/projects/{id}/graph [get]
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.LoadGraph(r.Context(), identity.Actor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "load graph", err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc.Graph.Normalize())
}

// PutGraph handles PUT /api/projects/{id}/graph.
//
//	@Summary		Replace the project graph
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Project ID"
//	@Param			If-Match	header		string			false	"Checksum the caller last saw"
//	@Param			body		body		models.Graph	true	"Complete graph"
//	@Success		200			{object}	OKResponse
//	@Failure		400			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/projects/{id}/graph [put]
func (h *Handler) PutGraph(w http.ResponseWriter, r *http.Request) {
	var g models.Graph
	if !decodeBody(w, r, &g) {
		return
	}
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	sum, err := h.svc.SaveGraph(r.Context(), identity.Actor(r.Context()), chi.URLParam(r, "id"), g, ifMatch)
	if err != nil {
		writeError(w, r, "save graph", err)
		return
	}
	w.Header().Set("ETag", `"`+sum+`"`)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// PutMember handles PUT /api/projects/{id}/members/{userId}.
//
//	@Summary		Grant a membership role (owner only)
//	@Tags			members
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Project ID"
//	@Param			userId	path		string			true	"User ID"
//	@Param			body	body		MemberRequest	true	"Role"
//	@Success		200		{object}	OKResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Router			/projects/{id}/members/{userId} [put]
func (h *Handler) PutMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.svc.PutMember(r.Context(), identity.Actor(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		writeError(w, r, "put member", err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// RemoveMember handles DELETE /api/projects/{id}/members/{userId}.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveMember(r.Context(), identity.Actor(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, "remove member", err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Events handles GET /api/projects/{id}/events (SSE). Readers only; a
// member's stream ends when their membership is removed.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := identity.Actor(r.Context())
	if _, err := h.svc.Project(r.Context(), actor, id); err != nil {
		writeError(w, r, "events", err)
		return
	}
	if h.broker == nil {
		writeJSON(w, http.StatusNotFound, errorBody("events disabled"))
		return
	}
	h.broker.Stream(w, r, id, actor)
}

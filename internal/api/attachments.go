package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/media"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AttachmentHandler serves and accepts media for file and nano nodes.
type AttachmentHandler struct {
	store *media.Store
}

// NewAttachmentHandler creates a handler over a media store.
func NewAttachmentHandler(store *media.Store) *AttachmentHandler {
	return &AttachmentHandler{store: store}
}

// ServeFile handles GET /attachments/{filename}.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.store.Open(chi.URLParam(r, "filename"))
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Upload handles POST /api/attachments (multipart/form-data, field "file").
//
//	@Summary		Upload a media file
//	@Tags			attachments
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Router			/attachments [post]
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	st, err := h.store.Save(header.Filename, file, maxUploadBytes)
	if err != nil {
		writeError(w, r, "upload attachment", err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Filename: st.Name,
		Size:     st.Size,
		URL:      st.Ref.URL,
		Type:     st.Ref.Type,
	})
}

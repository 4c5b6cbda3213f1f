package api

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/starford/mioring/internal/ring"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Upload handles POST /api/entities (multipart/form-data, field "file").
// The extension of the uploaded filename picks the entity kind.
//
//	@Summary		Register an uploaded file as an entity
//	@Tags			entities
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Content to register"
//	@Success		201		{object}	RegisterResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
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

	ext, err := ring.ExtFromPath(filepath.Base(header.Filename))
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	id, err := h.svc.RegisterBlob(r.Context(), data, ext)
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{IDs: []ring.MioID{id}})
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/catalog"
	"github.com/starford/mioring/internal/mioservice"
	"github.com/starford/mioring/internal/ring"
)

const maxJSONBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *mioservice.Service
}

func NewHandler(svc *mioservice.Service) *Handler {
	return &Handler{svc: svc}
}

func parseIDs(raw []string) ([]ring.MioID, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one id is required", apperr.ErrInvalid)
	}
	ids := make([]ring.MioID, 0, len(raw))
	for _, s := range raw {
		id, err := ring.ParseMioID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func idParam(r *http.Request) (ring.MioID, error) {
	return ring.ParseMioID(chi.URLParam(r, "id"))
}

// ListEntities handles GET /api/entities.
//
//	@Summary		List catalogued specters
//	@Tags			entities
//	@Produce		json
//	@Param			ring	query		string	false	"live or archived"
//	@Param			kind	query		string	false	"text, image, audio or video"
//	@Param			variant	query		string	false	"entity or phantom"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	ListResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	f := catalog.Filter{
		Ring:    q.Get("ring"),
		Kind:    q.Get("kind"),
		Variant: q.Get("variant"),
		Tag:     q.Get("tag"),
	}
	rows, total, err := h.svc.List(r.Context(), f, limit, offset)
	if err != nil {
		writeError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Specters: rows, Total: total})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across text specters
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// RegisterText handles POST /api/entities/text.
//
//	@Summary		Register a text entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterTextRequest	true	"Text to register"
//	@Success		201		{object}	RegisterResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/text [post]
func (h *Handler) RegisterText(w http.ResponseWriter, r *http.Request) {
	var req RegisterTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var ext ring.EntityExt
	if req.Ext != "" {
		parsed, err := ring.ParseExt(req.Ext)
		if err != nil {
			writeError(w, "register text", err)
			return
		}
		ext = parsed
	}
	id, err := h.svc.RegisterText(r.Context(), req.Text, ext)
	if err != nil {
		writeError(w, "register text", err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{IDs: []ring.MioID{id}})
}

// Initiate handles POST /api/operations.
//
//	@Summary		Record a pending operation over existing specters
//	@Tags			operations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		InitiateRequest	true	"Operation"
//	@Success		201		{object}	ring.Ring
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/operations [post]
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := ring.ParseOperationKind(req.Kind)
	if err != nil {
		writeError(w, "initiate", err)
		return
	}
	base, err := parseIDs(req.Base)
	if err != nil {
		writeError(w, "initiate", err)
		return
	}
	delta, err := h.svc.Initiate(r.Context(), kind, req.Attr, base)
	if err != nil {
		writeError(w, "initiate", err)
		return
	}
	writeJSON(w, http.StatusCreated, delta)
}

// Force handles POST /api/force.
//
//	@Summary		Actualize specters, running pending operations
//	@Tags			operations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ForceRequest	true	"Ids to force"
//	@Success		200		{object}	ForceResponse
//	@Failure		501		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/force [post]
func (h *Handler) Force(w http.ResponseWriter, r *http.Request) {
	var req ForceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids, err := parseIDs(req.IDs)
	if err != nil {
		writeError(w, "force", err)
		return
	}
	done, err := h.svc.Force(r.Context(), ids)
	if err != nil {
		writeError(w, "force", err)
		return
	}
	writeJSON(w, http.StatusOK, ForceResponse{Actualized: done})
}

// View handles GET /api/view.
//
//	@Summary		Chronology window with its dependency closure
//	@Tags			view
//	@Produce		json
//	@Param			anchor	query		int	false	"Chronology index; omit for everything"
//	@Param			former	query		int	false	"Entries before the anchor"
//	@Param			latter	query		int	false	"Entries after the anchor"
//	@Success		200		{object}	ring.Snapshot
//	@Security		BearerAuth
//	@Router			/view [get]
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var gen ring.ViewGen = ring.ViewAll{}
	if q.Has("anchor") {
		anchor, err := strconv.Atoi(q.Get("anchor"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("anchor must be an integer"))
			return
		}
		former, _ := strconv.Atoi(q.Get("former"))
		latter, _ := strconv.Atoi(q.Get("latter"))
		gen = ring.ViewAnchor{Former: former, Anchor: anchor, Latter: latter}
	}
	snap, err := h.svc.View(r.Context(), gen)
	if err != nil {
		writeError(w, "view", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (req TargetRequest) target() (ring.Target, error) {
	switch {
	case req.Specter != "" && req.Operation != "":
		return ring.Target{}, fmt.Errorf("%w: set either specter or operation", apperr.ErrInvalid)
	case req.Specter != "":
		id, err := ring.ParseMioID(req.Specter)
		if err != nil {
			return ring.Target{}, err
		}
		return ring.SpecterTarget(id), nil
	case req.Operation != "":
		id, err := ring.ParseOpID(req.Operation)
		if err != nil {
			return ring.Target{}, err
		}
		return ring.OperationTarget(id), nil
	}
	return ring.Target{}, fmt.Errorf("%w: a specter or operation is required", apperr.ErrInvalid)
}

// Archive handles POST /api/archive.
//
//	@Summary		Move a subtree into the archived ring
//	@Tags			archive
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TargetRequest	true	"Cascade root"
//	@Success		200		{object}	ring.Archived
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/archive [post]
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := req.target()
	if err != nil {
		writeError(w, "archive", err)
		return
	}
	out, err := h.svc.Archive(r.Context(), t)
	if err != nil {
		writeError(w, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete handles POST /api/delete.
//
//	@Summary		Remove a subtree and its content permanently
//	@Tags			archive
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TargetRequest	true	"Cascade root"
//	@Success		200		{object}	ring.Archived
//	@Security		BearerAuth
//	@Router			/delete [post]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := req.target()
	if err != nil {
		writeError(w, "delete", err)
		return
	}
	out, err := h.svc.Delete(r.Context(), t)
	if err != nil {
		writeError(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Purge handles POST /api/purge.
//
//	@Summary		Discard the archived ring
//	@Tags			archive
//	@Produce		json
//	@Success		200	{object}	ring.Purged
//	@Security		BearerAuth
//	@Router			/purge [post]
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Purge(r.Context())
	if err != nil {
		writeError(w, "purge", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Elevate handles POST /api/specters/{id}/elevate.
func (h *Handler) Elevate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "elevate", h.svc.Elevate)
}

// Pin handles POST /api/entities/{id}/pin.
func (h *Handler) Pin(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "pin", h.svc.Pin)
}

// Unpin handles DELETE /api/entities/{id}/pin.
func (h *Handler) Unpin(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "unpin", h.svc.Unpin)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, id ring.MioID) (*ring.Ring, error),
) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, op, err)
		return
	}
	delta, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// Content handles GET /api/specters/{id}/content. Lazy specters are forced
// before their bytes are served.
//
//	@Summary		Stream a specter's content
//	@Tags			specters
//	@Produce		octet-stream
//	@Param			id	path	string	true	"Specter id"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/specters/{id}/content [get]
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, "content", err)
		return
	}
	c, err := h.svc.Content(r.Context(), id)
	if err != nil {
		writeError(w, "content", err)
		return
	}
	w.Header().Set("Content-Type", contentType(c.Ext))
	http.ServeFile(w, r, c.Path)
}

func contentType(ext ring.EntityExt) string {
	switch ext {
	case ring.ExtPng:
		return "image/png"
	case ring.ExtJpg:
		return "image/jpeg"
	case ring.ExtMp3:
		return "audio/mpeg"
	case ring.ExtMp4:
		return "video/mp4"
	}
	return "text/plain; charset=utf-8"
}

// Offered handles GET /api/kinds/{kind}/operations.
//
//	@Summary		Operations the enabled backends accept for an entity kind
//	@Tags			operations
//	@Produce		json
//	@Param			kind	path		string	true	"Entity kind"
//	@Success		200		{object}	OperationsResponse
//	@Router			/kinds/{kind}/operations [get]
func (h *Handler) Offered(w http.ResponseWriter, r *http.Request) {
	kind := ring.EntityKind(chi.URLParam(r, "kind"))
	ops, err := h.svc.Offered(kind)
	if err != nil {
		writeError(w, "offered", err)
		return
	}
	if ops == nil {
		ops = []ring.OperationKind{}
	}
	writeJSON(w, http.StatusOK, OperationsResponse{Kind: kind, Operations: ops})
}

// Describe handles GET /api/operations/kinds.
func (h *Handler) Describe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Describe())
}

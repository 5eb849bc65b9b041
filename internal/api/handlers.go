package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

const maxJSONBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc NodeStore
}

// NewHandler creates a new Handler.
func NewHandler(svc NodeStore) *Handler {
	return &Handler{svc: svc}
}

// nodePath extracts the node path from the URL wildcard. Encoded slashes
// (Acme%2FDC1) are accepted.
func nodePath(r *http.Request) string {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// Tree handles GET /api/tree.
//
//	@Summary		Get the whole content tree
//	@Tags			nodes
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Tree(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{Nodes: nodes})
}

// GetNode handles GET /api/nodes/*.
//
//	@Summary		Read a node by path
//	@Tags			nodes
//	@Produce		json
//	@Param			path	path		string	true	"Node path"
//	@Success		200		{object}	models.Node
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{path} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		badRequest(w, "path is required")
		return
	}
	node, err := h.svc.Read(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(node.UpdatedAt))
	writeJSON(w, http.StatusOK, node)
}

// Children handles GET /api/children/* (the root when the path is empty).
//
//	@Summary		List the children of a node
//	@Tags			nodes
//	@Produce		json
//	@Param			path	path		string	false	"Node path"
//	@Success		200		{object}	ChildrenResponse
//	@Security		BearerAuth
//	@Router			/children/{path} [get]
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	kids, err := h.svc.ListChildren(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChildrenResponse{Path: path, Children: kids})
}

// CreateNode handles POST /api/nodes.
//
//	@Summary		Create a node
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNodeRequest	true	"Node to create"
//	@Success		201		{object}	models.Node
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes [post]
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if !decode(w, r, &req) {
		return
	}
	typ, err := models.ParseNodeType(req.Type)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	node, err := h.svc.Create(r.Context(), req.Parent, typ, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/nodes/"+node.Path)
	writeJSON(w, http.StatusCreated, node)
}

// SaveNode handles PUT /api/nodes/*.
//
//	@Summary		Save a node with optimistic concurrency
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string			true	"Node path"
//	@Param			If-Match	header	string			false	"Expected updated_at (RFC3339Nano)"
//	@Param			body		body	SaveNodeRequest	true	"Fields to change"
//	@Success		200		{object}	models.Node
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{path} [put]
func (h *Handler) SaveNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		badRequest(w, "path is required")
		return
	}
	var req SaveNodeRequest
	if !decode(w, r, &req) {
		return
	}
	patch := req.patch()
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		expected, err := time.Parse(time.RFC3339Nano, ifMatch)
		if err != nil {
			badRequest(w, "If-Match must be an RFC3339 timestamp")
			return
		}
		patch.ExpectedUpdatedAt = expected
	}
	node, err := h.svc.Save(r.Context(), path, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(node.UpdatedAt))
	writeJSON(w, http.StatusOK, node)
}

// MoveNode handles POST /api/move.
//
//	@Summary		Move and/or rename a node
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveRequest	true	"Move request"
//	@Success		200		{object}	models.Node
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		badRequest(w, "path is required")
		return
	}
	if req.NewParent == nil && req.NewName == "" {
		badRequest(w, "new_parent or new_name is required")
		return
	}
	ctx := r.Context()
	path := req.Path
	var (
		node *models.Node
		err  error
	)
	if req.NewParent != nil && *req.NewParent != pathres.Parent(path) {
		if node, err = h.svc.Move(ctx, path, *req.NewParent); err != nil {
			writeError(w, r, err)
			return
		}
		path = node.Path
	}
	if req.NewName != "" && req.NewName != pathres.Base(path) {
		if node, err = h.svc.Rename(ctx, path, req.NewName); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if node == nil {
		if node, err = h.svc.Read(ctx, path); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, node)
}

// DeleteNode handles DELETE /api/nodes/*.
//
//	@Summary		Delete a node
//	@Tags			nodes
//	@Param			path	path		string	true	"Node path"
//	@Param			cascade	query		bool	false	"Delete the whole subtree"
//	@Success		200		{object}	DeleteResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{path} [delete]
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	if path == "" {
		badRequest(w, "path is required")
		return
	}
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))
	removed, err := h.svc.Delete(r.Context(), path, cascade)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Removed: removed})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across nodes
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
	if strings.TrimSpace(q) == "" {
		badRequest(w, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: searchResults(hits)})
}

// Recent handles GET /api/recent.
//
//	@Summary		Most recently updated nodes
//	@Tags			nodes
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	SummariesResponse
//	@Security		BearerAuth
//	@Router			/recent [get]
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummariesResponse{Nodes: list})
}

// Breadcrumb handles GET /api/breadcrumb/*.
//
//	@Summary		Ancestors of a node, top first, the node included
//	@Tags			nodes
//	@Produce		json
//	@Param			path	path		string	true	"Node path"
//	@Success		200		{object}	SummariesResponse
//	@Security		BearerAuth
//	@Router			/breadcrumb/{path} [get]
func (h *Handler) Breadcrumb(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Breadcrumb(r.Context(), nodePath(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummariesResponse{Nodes: list})
}

func etag(t time.Time) string {
	return `"` + t.UTC().Format(time.RFC3339Nano) + `"`
}

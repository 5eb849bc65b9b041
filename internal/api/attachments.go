package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

// maxUploadBytes caps a request body; the node service applies the
// configured per-attachment limit on top.
const maxUploadBytes = 50 << 20

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	models.Attachment
	URL string `json:"url" example:"/api/attachments/diagram.png?path=Acme/DC1/Runbook" validate:"required"`
}

// AttachmentHandler serves and accepts node attachments.
type AttachmentHandler struct {
	svc NodeStore
}

// NewAttachmentHandler creates an attachment handler.
func NewAttachmentHandler(svc NodeStore) *AttachmentHandler {
	return &AttachmentHandler{svc: svc}
}

func attachmentTarget(r *http.Request) (path, name string) {
	return strings.Trim(r.URL.Query().Get("path"), "/"), chi.URLParam(r, "name")
}

// ServeFile handles GET /api/attachments/{name}?path=.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	path, name := attachmentTarget(r)
	if path == "" {
		badRequest(w, "query parameter 'path' is required")
		return
	}
	rc, meta, err := h.svc.GetAttachment(r.Context(), path, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("ETag", `"`+meta.SHA256+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// Upload handles PUT /api/attachments/{name}?path=. The body is either the
// raw file or a multipart form with a "file" field.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path, name := attachmentTarget(r)
	if path == "" {
		badRequest(w, "query parameter 'path' is required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			badRequest(w, "file too large or invalid multipart")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "missing 'file' field in multipart form")
			return
		}
		defer file.Close()
		src = file
	}

	att, err := h.svc.PutAttachment(r.Context(), path, pathres.SanitizeFilename(name), src)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		Attachment: att,
		URL:        "/api/attachments/" + att.Name + "?path=" + path,
	})
}

// Delete handles DELETE /api/attachments/{name}?path=.
func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path, name := attachmentTarget(r)
	if path == "" {
		badRequest(w, "query parameter 'path' is required")
		return
	}
	if err := h.svc.DeleteAttachment(r.Context(), path, name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/infrawiki/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

func errorBody(code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}

// statusByKind maps every error kind to exactly one HTTP status.
var statusByKind = map[apperr.Kind]int{
	apperr.KindInvalidPath:         http.StatusBadRequest,
	apperr.KindPathTraversal:       http.StatusBadRequest,
	apperr.KindInvalidInput:        http.StatusBadRequest,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindConflict:            http.StatusConflict,
	apperr.KindNotEmpty:            http.StatusConflict,
	apperr.KindNameCollision:       http.StatusConflict,
	apperr.KindDisallowedPlacement: http.StatusUnprocessableEntity,
	apperr.KindCyclicMove:          http.StatusUnprocessableEntity,
	apperr.KindTooManyAttachments:  http.StatusUnprocessableEntity,
	apperr.KindAttachmentTooLarge:  http.StatusRequestEntityTooLarge,
	apperr.KindBusy:                http.StatusServiceUnavailable,
	apperr.KindCorruptNode:         http.StatusInternalServerError,
	apperr.KindIOFailure:           http.StatusInternalServerError,
}

// statusOf returns the HTTP status for err.
func statusOf(err error) int {
	if s, ok := statusByKind[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error", "code"}. Server-side failures are
// logged and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && kind != apperr.KindBusy {
		slog.Error("api: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", kind.Code()),
			slog.String("error", err.Error()))
		msg = "internal error"
	}
	if kind == apperr.KindBusy {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody(kind.Code(), msg))
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody(apperr.KindInvalidInput.Code(), msg))
}

package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/focusguard/internal/coordinator"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/storage"
)

// StartSessionRequest starts a focus session.
type StartSessionRequest struct {
	Tier string `json:"tier"`
}

// StartBreakRequest starts a break. Duration is a preset name or a Go
// duration such as "10m".
type StartBreakRequest struct {
	Duration string `json:"duration"`
}

// SelectionRequest replaces the restricted apps and sites.
type SelectionRequest struct {
	Apps  []string `json:"apps"`
	Sites []string `json:"sites"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Message string `json:"message"`
}

// PresetsResponse lists the configured break presets.
type PresetsResponse struct {
	Presets []coordinator.Preset `json:"presets"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var enfErr *focus.EnforcementError
	switch {
	case errors.Is(err, focus.ErrSessionActive), errors.Is(err, focus.ErrNotOnBreak):
		return http.StatusConflict
	case errors.Is(err, focus.ErrNoActiveSession), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, focus.ErrInvalidDuration),
		errors.Is(err, focus.ErrUnknownTier),
		errors.Is(err, coordinator.ErrUnknownPreset):
		return http.StatusBadRequest
	case errors.Is(err, focus.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &enfErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

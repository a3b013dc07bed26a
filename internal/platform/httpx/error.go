package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/VNZray/capstone-project-sub001/internal/platform/requestctx"
)

// Error is the JSON envelope returned for all failed requests.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// WriteError renders the error envelope, stamping request and trace identifiers
// from the request context.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	payload := Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	}
	if r != nil {
		payload.RequestID = middleware.GetReqID(r.Context())
		payload.TraceID = requestctx.TraceID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: payload})
}

// WriteJSON renders a success payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

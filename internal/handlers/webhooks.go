package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/VNZray/capstone-project-sub001/internal/platform/httpx"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

const maxWebhookBodySize = 256 * 1024

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// WebhookHandlers receives signature-verified gateway events. Mounted behind
// the HMAC verification middleware; the raw body reaching this handler is
// authenticated.
type WebhookHandlers struct {
	webhooks services.WebhookService
	provider string
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(webhooks services.WebhookService, provider string) *WebhookHandlers {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "stripe"
	}
	return &WebhookHandlers{webhooks: webhooks, provider: provider}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/gateway", h.receiveGatewayEvent)
}

func (h *WebhookHandlers) receiveGatewayEvent(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "unable to read request body", nil)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", nil)
		return
	}

	result, err := h.webhooks.Ingest(r.Context(), services.IngestWebhookCommand{
		Provider:        h.provider,
		ProviderEventID: envelope.ID,
		EventType:       envelope.Type,
		Payload:         body,
	})
	if err != nil {
		if errors.Is(err, services.ErrWebhookInvalidInput) {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		// Non-2xx makes the provider redeliver; dedup absorbs the retry.
		httpx.WriteError(w, r, http.StatusInternalServerError, "ingest_failed", "event could not be stored", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}

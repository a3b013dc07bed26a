package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/VNZray/capstone-project-sub001/internal/services"
)

type stubWebhookService struct {
	ingestFn  func(context.Context, services.IngestWebhookCommand) (services.WebhookIngestResult, error)
	processFn func(context.Context, string) error
}

func (s *stubWebhookService) Process(ctx context.Context, eventID string) error {
	if s.processFn != nil {
		return s.processFn(ctx, eventID)
	}
	return errors.New("not implemented")
}

func (s *stubWebhookService) Ingest(ctx context.Context, cmd services.IngestWebhookCommand) (services.WebhookIngestResult, error) {
	if s.ingestFn != nil {
		return s.ingestFn(ctx, cmd)
	}
	return services.WebhookIngestResult{}, errors.New("not implemented")
}

func webhookRouter(webhooks services.WebhookService) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(webhooks, "stripe").Routes)
	return router
}

func TestReceiveGatewayEvent(t *testing.T) {
	var captured services.IngestWebhookCommand
	webhooks := &stubWebhookService{ingestFn: func(_ context.Context, cmd services.IngestWebhookCommand) (services.WebhookIngestResult, error) {
		captured = cmd
		return services.WebhookIngestResult{EventID: "whe_1"}, nil
	}}

	body := `{"id": "evt_1", "type": "payment_intent.succeeded", "data": {"object": {"id": "pi_1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	rec := httptest.NewRecorder()
	webhookRouter(webhooks).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if captured.Provider != "stripe" || captured.ProviderEventID != "evt_1" {
		t.Fatalf("command = %+v", captured)
	}
	if captured.EventType != "payment_intent.succeeded" {
		t.Fatalf("event type = %q", captured.EventType)
	}
	if string(captured.Payload) != body {
		t.Fatalf("payload = %s", captured.Payload)
	}

	var response struct {
		Received  bool `json:"received"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Received || response.Duplicate {
		t.Fatalf("response = %+v", response)
	}
}

func TestReceiveGatewayEventDuplicate(t *testing.T) {
	webhooks := &stubWebhookService{ingestFn: func(context.Context, services.IngestWebhookCommand) (services.WebhookIngestResult, error) {
		return services.WebhookIngestResult{EventID: "whe_1", Duplicate: true}, nil
	}}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"id": "evt_1", "type": "charge.refunded"}`))
	rec := httptest.NewRecorder()
	webhookRouter(webhooks).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var response struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Duplicate {
		t.Fatal("duplicate delivery must be reported")
	}
}

func TestReceiveGatewayEventInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	webhookRouter(&stubWebhookService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_body" {
		t.Fatalf("code = %q", code)
	}
}

func TestReceiveGatewayEventInvalidInput(t *testing.T) {
	webhooks := &stubWebhookService{ingestFn: func(context.Context, services.IngestWebhookCommand) (services.WebhookIngestResult, error) {
		return services.WebhookIngestResult{}, services.ErrWebhookInvalidInput
	}}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"type": "payment_intent.succeeded"}`))
	rec := httptest.NewRecorder()
	webhookRouter(webhooks).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_request" {
		t.Fatalf("code = %q", code)
	}
}

func TestReceiveGatewayEventStoreFailure(t *testing.T) {
	webhooks := &stubWebhookService{ingestFn: func(context.Context, services.IngestWebhookCommand) (services.WebhookIngestResult, error) {
		return services.WebhookIngestResult{}, errors.New("firestore unavailable")
	}}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(`{"id": "evt_1", "type": "payment_intent.succeeded"}`))
	rec := httptest.NewRecorder()
	webhookRouter(webhooks).ServeHTTP(rec, req)

	// A non-2xx response makes the provider redeliver the event later.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "ingest_failed" {
		t.Fatalf("code = %q", code)
	}
}

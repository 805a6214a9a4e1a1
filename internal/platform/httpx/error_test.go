package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("invalid_request", "quantity\nrequired", http.StatusBadRequest).
		WithDetails(map[string]any{"field": "quantity"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if payload["message"] != "quantity required" {
		t.Fatalf("expected newline to be flattened, got %v", payload["message"])
	}
	if payload["field"] != "quantity" {
		t.Fatalf("expected details to be merged, got %v", payload)
	}
	if _, ok := payload["request_id"]; ok {
		t.Fatalf("did not expect request id without middleware")
	}
}

func TestNewErrorDefaultsStatusAndTruncates(t *testing.T) {
	err := NewError(strings.Repeat("x", 100), "boom", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default status 500, got %d", err.Status)
	}
	if len(err.Code) != 80 {
		t.Fatalf("expected code truncated to 80, got %d", len(err.Code))
	}
}

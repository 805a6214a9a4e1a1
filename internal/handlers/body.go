package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/httpx"
)

const maxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON body into out, writing the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// writeDomainError maps an engine error to the JSON envelope. The message is the text a user
// should see.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error, details map[string]any) {
	message := domain.UserMessage(err)
	switch domain.KindOf(err) {
	case domain.KindSessionExpired:
		httpx.WriteError(ctx, w, httpx.NewError("session_expired", message, http.StatusUnauthorized).WithDetails(details))
	case domain.KindNetwork:
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", message, http.StatusBadGateway).WithDetails(details))
	case domain.KindServer:
		status := http.StatusBadGateway
		var typed *domain.Error
		if errors.As(err, &typed) && typed.Status >= 400 && typed.Status < 500 {
			status = http.StatusUnprocessableEntity
		}
		httpx.WriteError(ctx, w, httpx.NewError("upstream_rejected", message, status).WithDetails(details))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", message, http.StatusInternalServerError).WithDetails(details))
	}
}

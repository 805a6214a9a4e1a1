package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/hanko-storefront/internal/auth"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/httpx"
)

// SessionService is the slice of the auth session manager the handlers drive.
type SessionService interface {
	State() domain.Identity
	Login(ctx context.Context, username, password string) auth.LoginResult
	Register(ctx context.Context, username, email, password string) auth.LoginResult
	Logout()
	RefreshToken(ctx context.Context) bool
	ClearError()
}

// SessionHandlers serves the /session group.
type SessionHandlers struct {
	session SessionService
}

// NewSessionHandlers constructs the session handlers.
func NewSessionHandlers(svc SessionService) *SessionHandlers {
	return &SessionHandlers{session: svc}
}

// Routes registers the session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSession)
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/logout", h.logout)
	r.Post("/refresh", h.refresh)
	r.Delete("/error", h.clearError)
}

type identityPayload struct {
	Status  domain.IdentityStatus `json:"status"`
	User    *domain.User          `json:"user,omitempty"`
	Message string                `json:"message,omitempty"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, newIdentityPayload(h.session.State()))
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "username and password are required", http.StatusBadRequest))
		return
	}
	result := h.session.Login(ctx, username, req.Password)
	if !result.Success {
		httpx.WriteError(ctx, w, httpx.NewError("login_failed", result.Error, http.StatusUnauthorized))
		return
	}
	writeJSONResponse(w, http.StatusOK, newIdentityPayload(h.session.State()))
}

func (h *SessionHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "username, email and password are required", http.StatusBadRequest))
		return
	}
	result := h.session.Register(ctx, username, email, req.Password)
	if !result.Success {
		httpx.WriteError(ctx, w, httpx.NewError("registration_failed", result.Error, http.StatusBadRequest))
		return
	}
	writeJSONResponse(w, http.StatusCreated, newIdentityPayload(h.session.State()))
}

func (h *SessionHandlers) logout(w http.ResponseWriter, _ *http.Request) {
	h.session.Logout()
	writeJSONResponse(w, http.StatusOK, newIdentityPayload(h.session.State()))
}

func (h *SessionHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.session.RefreshToken(ctx) {
		httpx.WriteError(ctx, w, httpx.NewError("session_expired", domain.MessageSessionExpired, http.StatusUnauthorized))
		return
	}
	writeJSONResponse(w, http.StatusOK, newIdentityPayload(h.session.State()))
}

func (h *SessionHandlers) clearError(w http.ResponseWriter, _ *http.Request) {
	h.session.ClearError()
	writeJSONResponse(w, http.StatusOK, newIdentityPayload(h.session.State()))
}

func newIdentityPayload(identity domain.Identity) identityPayload {
	return identityPayload{
		Status:  identity.Status,
		User:    identity.User,
		Message: identity.Message,
	}
}

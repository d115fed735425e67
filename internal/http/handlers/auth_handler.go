package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/http/middleware"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/service"
	"github.com/diagnosis/staybook/pkg/logger"
)

const maxBodyBytes = 1 << 20

type AuthService interface {
	Register(ctx context.Context, in domain.RegisterInput) (*domain.AuthResult, error)
	Login(ctx context.Context, in domain.LoginInput) (*domain.AuthResult, error)
	Profile(ctx context.Context, id domain.Identity) (*domain.PublicUser, error)
}

type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.svc.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, res)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in domain.LoginInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.svc.Login(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

// Me returns the caller's profile. Mounted behind RequireAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "missing authorization token", response.CodeMissingToken)
		return
	}

	user, err := h.svc.Profile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}

// OwnerPing is a minimal owner-only endpoint.
func (h *AuthHandler) OwnerPing(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())
	response.WriteJSON(w, http.StatusOK, map[string]any{"message": "pong", "user_id": id.UserID})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		// No body at all reads as an empty object.
		return true
	}
	if err != nil {
		logger.DebugContext(r.Context(), "Rejected request body", "error", err)
		response.BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		logger.ErrorContext(r.Context(), "Unexpected error", "error", err)
		response.InternalError(w, "internal server error")
		return
	}

	switch se.Kind {
	case service.KindValidation:
		response.BadRequest(w, se.Message)
	case service.KindConflict:
		response.WriteError(w, http.StatusBadRequest, se.Message, response.CodeEmailExists)
	case service.KindAuth:
		response.Unauthorized(w, se.Message)
	default:
		response.InternalError(w, se.Message)
	}
}

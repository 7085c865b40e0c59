package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"identity/internal/identity"
)

type AuthHandler struct {
	service *identity.AuditedService
	ips     *ClientIPResolver
}

func NewAuthHandler(service *identity.AuditedService, ips *ClientIPResolver) *AuthHandler {
	return &AuthHandler{service: service, ips: ips}
}

type DeviceRequest struct {
	DeviceID      string `json:"deviceId" validate:"required,max=128"`
	DeviceName    string `json:"deviceName" validate:"max=128"`
	Platform      string `json:"platform" validate:"required,max=16"`
	ClientVersion string `json:"clientVersion" validate:"max=32"`
}

type LoginRequest struct {
	Email      string        `json:"email" validate:"max=254"`
	NationalID string        `json:"nationalId" validate:"max=12"`
	Password   string        `json:"password" validate:"required,max=128"`
	Device     DeviceRequest `json:"device"`
	RememberMe bool          `json:"rememberMe"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), identity.LoginInput{
		Email:      req.Email,
		NationalID: req.NationalID,
		Password:   req.Password,
		Device: identity.Device{
			DeviceID:      req.Device.DeviceID,
			DeviceName:    req.Device.DeviceName,
			Platform:      req.Device.Platform,
			ClientVersion: req.Device.ClientVersion,
		},
		RememberMe: req.RememberMe,
	}, h.ips.Resolve(r), r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
	DeviceID     string `json:"deviceId" validate:"max=128"`
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, req.DeviceID, h.ips.Resolve(r), r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// POST /api/v1/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.LogoutAll(r.Context(), GetUserID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sessionsRevoked": count})
}

// GET /api/v1/auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context(), GetUserID(r), GetSessionID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// DELETE /api/v1/auth/sessions/{sessionID}
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.RevokeSession(r.Context(), GetUserID(r), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

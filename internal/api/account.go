package api

import (
	"net/http"

	"identity/internal/identity"
)

type AccountHandler struct {
	service *identity.AuditedService
}

func NewAccountHandler(service *identity.AuditedService) *AccountHandler {
	return &AccountHandler{service: service}
}

// GET /api/v1/users/me
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetCurrentUser(r.Context(), GetUserID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type ProfileRequest struct {
	FirstName   identity.Optional[string] `json:"firstName"`
	LastName    identity.Optional[string] `json:"lastName"`
	PhoneNumber identity.Optional[string] `json:"phoneNumber"`
}

// PATCH /api/v1/users/me/profile
//
// Absent fields are untouched; an explicit null clears phoneNumber. Plain
// struct validation cannot express that, so the engine validates.
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.service.CompleteProfile(r.Context(), GetUserID(r), identity.ProfileInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,max=128"`
}

// POST /api/v1/users/me/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), GetUserID(r), req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// POST /api/v1/auth/password-reset
func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If an account exists with this email, a reset link has been sent",
	})
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

// POST /api/v1/auth/password-reset/confirm
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset"})
}

type EmailChangeRequest struct {
	NewEmail string `json:"newEmail" validate:"required,max=254"`
}

// POST /api/v1/users/me/email-change
func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req EmailChangeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.RequestEmailChange(r.Context(), GetUserID(r), req.NewEmail); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Confirmation email sent to the new address"})
}

type ConfirmEmailChangeRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/v1/auth/email-change/confirm
func (h *AccountHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailChangeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.service.ConfirmEmailChange(r.Context(), req.Token)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

package api

import (
	"net/http"

	"identity/internal/identity"
)

type RegistrationHandler struct {
	service *identity.AuditedService
	ips     *ClientIPResolver
}

func NewRegistrationHandler(service *identity.AuditedService, ips *ClientIPResolver) *RegistrationHandler {
	return &RegistrationHandler{service: service, ips: ips}
}

// GET /api/v1/registrations/check-email?email=
func (h *RegistrationHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	available, err := h.service.CheckEmailAvailability(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

type StartRegistrationRequest struct {
	Email      string `json:"email" validate:"required,max=254"`
	NationalID string `json:"nationalId" validate:"required,len=12,numeric"`
	Password   string `json:"password" validate:"required,max=128"`
	FirstName  string `json:"firstName" validate:"required,max=100"`
	LastName   string `json:"lastName" validate:"required,max=100"`
	Consents   struct {
		TermsVersion   string `json:"termsVersion" validate:"required"`
		PrivacyVersion string `json:"privacyVersion" validate:"required"`
	} `json:"consents"`
}

// POST /api/v1/registrations
//
// The optional Idempotency-Key header makes retried submissions replay the
// original response instead of failing on the unique constraints.
func (h *RegistrationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRegistrationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	response, err := h.service.StartRegistration(r.Context(), identity.RegistrationInput{
		Email:      req.Email,
		NationalID: req.NationalID,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Consents: identity.Consents{
			TermsVersion:   req.Consents.TermsVersion,
			PrivacyVersion: req.Consents.PrivacyVersion,
		},
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(response)
}

type ResendActivationRequest struct {
	Email      string `json:"email" validate:"required,max=254"`
	NationalID string `json:"nationalId" validate:"required,len=12,numeric"`
}

// POST /api/v1/registrations/resend
func (h *RegistrationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req ResendActivationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.service.ResendActivationEmail(r.Context(), req.NationalID, req.Email); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Activation email sent"})
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/v1/registrations/verify
func (h *RegistrationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), req.Token, h.ips.Resolve(r), r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/v1/registrations/status?email=
func (h *RegistrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetRegistrationStatus(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GET /api/v1/registrations/password-policy
func (h *RegistrationHandler) PasswordPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PasswordPolicy())
}

// GET /api/v1/registrations/limits
func (h *RegistrationHandler) Limits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Limits())
}

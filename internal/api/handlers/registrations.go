package handlers

import (
	"net/http"
	"time"

	"github.com/entranthq/server/internal/api/middleware"
	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/metrics"
	"github.com/entranthq/server/internal/sanitize"
)

type RegistrationsHandler struct {
	Service *registrations.Service
	Env     string
}

func NewRegistrationsHandler(service *registrations.Service, env string) *RegistrationsHandler {
	return &RegistrationsHandler{Service: service, Env: env}
}

type registerRequest struct {
	EventID string  `json:"event_id" validate:"required"`
	TeamID  *string `json:"team_id,omitempty" validate:"omitempty,min=1"`
}

type registrationResponse struct {
	ID                 string  `json:"id"`
	RegistrationNumber string  `json:"registration_number"`
	EventID            string  `json:"event_id"`
	UserID             string  `json:"user_id"`
	TeamID             *string `json:"team_id,omitempty"`
	Status             string  `json:"status"`
	PaymentStatus      string  `json:"payment_status"`
	CurrentRound       int     `json:"current_round,omitempty"`
	EliminatedInRound  *int    `json:"eliminated_in_round,omitempty"`
	AdvancedToRounds   []int   `json:"advanced_to_rounds,omitempty"`
	CheckedIn          bool    `json:"checked_in"`
	CancelledReason    string  `json:"cancelled_reason,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func registrationPayload(reg *registrations.Registration) registrationResponse {
	return registrationResponse{
		ID:                 reg.ULID,
		RegistrationNumber: reg.RegistrationNumber,
		EventID:            reg.EventID,
		UserID:             reg.UserID,
		TeamID:             reg.TeamID,
		Status:             string(reg.Status),
		PaymentStatus:      string(reg.PaymentStatus),
		CurrentRound:       reg.CurrentRound,
		EliminatedInRound:  reg.EliminatedInRound,
		AdvancedToRounds:   reg.AdvancedToRounds,
		CheckedIn:          reg.CheckedIn,
		CancelledReason:    reg.CancelledReason,
		CreatedAt:          reg.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          reg.UpdatedAt.Format(time.RFC3339),
	}
}

// Register creates a registration for the authenticated user.
func (h *RegistrationsHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, typeForbidden, "Authentication required", nil, h.Env)
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	reg, err := h.Service.RegisterIdempotent(r.Context(), registrations.RegisterInput{
		EventULID: req.EventID,
		UserID:    actor.ID,
		TeamULID:  req.TeamID,
	}, middleware.IdempotencyKey(r))
	if err != nil {
		if reason := rejectionReason(err); reason != "" {
			metrics.RegistrationsRejected.WithLabelValues(reason).Inc()
		}
		writeDomainError(w, r, err, h.Env)
		return
	}

	metrics.RegistrationsCreated.WithLabelValues(string(reg.Status)).Inc()
	writeJSON(w, http.StatusCreated, registrationPayload(reg))
}

func (h *RegistrationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	reg, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	actor, _ := middleware.ActorFromContext(r.Context())
	if reg.UserID != actor.ID && !actor.Privileged() {
		writeDomainError(w, r, registrations.ErrForbidden, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, registrationPayload(reg))
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// Cancel moves the registration to cancelled, releasing its capacity slot and
// seeding a refund when a completed payment is attached.
func (h *RegistrationsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, typeForbidden, "Authentication required", nil, h.Env)
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, r, err, h.Env)
			return
		}
	}

	reg, err := h.Service.Cancel(r.Context(), id, actor, sanitize.Text(req.Reason))
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	metrics.RegistrationsCancelled.WithLabelValues(string(reg.Status)).Inc()
	writeJSON(w, http.StatusOK, registrationPayload(reg))
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed waitlisted cancelled rejected"`
}

// UpdateStatus is the staff path for explicit state machine transitions,
// including promoting a waitlisted registration into a freed slot.
func (h *RegistrationsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	reg, err := h.Service.UpdateStatus(r.Context(), id, registrations.Status(req.Status), actor)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, registrationPayload(reg))
}

// CheckIn records attendance; a checked-in registration can no longer cancel.
func (h *RegistrationsHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())

	reg, err := h.Service.CheckIn(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, registrationPayload(reg))
}

package handlers

import (
	"net/http"
	"time"

	"github.com/entranthq/server/internal/domain/events"
)

type EventsHandler struct {
	Events events.Repository
	Env    string
}

func NewEventsHandler(eventRepo events.Repository, env string) *EventsHandler {
	return &EventsHandler{Events: eventRepo, Env: env}
}

type roundResponse struct {
	Number   int    `json:"number"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	StartsAt string `json:"starts_at,omitempty"`
}

type refundTierResponse struct {
	HoursBefore int `json:"hours_before"`
	Percentage  int `json:"percentage"`
}

type eventResponse struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Status               string               `json:"status"`
	IsTeamEvent          bool                 `json:"is_team_event"`
	MinTeamSize          int                  `json:"min_team_size,omitempty"`
	MaxTeamSize          int                  `json:"max_team_size,omitempty"`
	MaxParticipants      *int                 `json:"max_participants,omitempty"`
	StartsAt             string               `json:"starts_at"`
	RegistrationOpensAt  string               `json:"registration_opens_at,omitempty"`
	RegistrationClosesAt string               `json:"registration_closes_at"`
	IsPaid               bool                 `json:"is_paid"`
	AmountCents          int64                `json:"amount_cents,omitempty"`
	Currency             string               `json:"currency,omitempty"`
	RefundPolicy         []refundTierResponse `json:"refund_policy,omitempty"`
	Rounds               []roundResponse      `json:"rounds,omitempty"`
}

func eventPayload(e *events.Event) eventResponse {
	resp := eventResponse{
		ID:                   e.ULID,
		Name:                 e.Name,
		Status:               string(e.Status),
		IsTeamEvent:          e.IsTeamEvent,
		MinTeamSize:          e.MinTeamSize,
		MaxTeamSize:          e.MaxTeamSize,
		MaxParticipants:      e.MaxParticipants,
		StartsAt:             e.StartsAt.Format(time.RFC3339),
		RegistrationClosesAt: e.RegistrationClosesAt.Format(time.RFC3339),
		IsPaid:               e.IsPaid,
		AmountCents:          e.AmountCents,
		Currency:             e.Currency,
	}
	if e.RegistrationOpensAt != nil {
		resp.RegistrationOpensAt = e.RegistrationOpensAt.Format(time.RFC3339)
	}
	for _, tier := range e.RefundPolicy {
		resp.RefundPolicy = append(resp.RefundPolicy, refundTierResponse{
			HoursBefore: tier.HoursBefore,
			Percentage:  tier.Percentage,
		})
	}
	for _, round := range e.Rounds {
		rr := roundResponse{Number: round.Number, Name: round.Name, Status: string(round.Status)}
		if round.StartsAt != nil {
			rr.StartsAt = round.StartsAt.Format(time.RFC3339)
		}
		resp.Rounds = append(resp.Rounds, rr)
	}
	return resp
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	event, err := h.Events.GetByULID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, eventPayload(event))
}

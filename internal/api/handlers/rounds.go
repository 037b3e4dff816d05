package handlers

import (
	"net/http"
	"strconv"

	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/progression"
)

// RoundsHandler is the staff surface for round lifecycle and team
// progression within a competitive event.
type RoundsHandler struct {
	Service *progression.Service
	Events  events.Repository
	Env     string
}

func NewRoundsHandler(service *progression.Service, eventRepo events.Repository, env string) *RoundsHandler {
	return &RoundsHandler{Service: service, Events: eventRepo, Env: env}
}

type progressRequest struct {
	TeamIDs       []string `json:"team_ids" validate:"required,min=1,dive,required"`
	FromRound     int      `json:"from_round" validate:"required,min=1"`
	ToRound       int      `json:"to_round" validate:"required,min=1"`
	EliminateRest bool     `json:"eliminate_rest"`
}

type progressResponse struct {
	Advanced   int `json:"advanced"`
	Eliminated int `json:"eliminated"`
}

// Progress advances the named teams' registrations between rounds. Safe to
// retry: members already carrying the target round are skipped.
func (h *RoundsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	eventID, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	result, err := h.Service.ProgressTeams(r.Context(), progression.ProgressInput{
		EventULID:     eventID,
		TeamULIDs:     req.TeamIDs,
		FromRound:     req.FromRound,
		ToRound:       req.ToRound,
		EliminateRest: req.EliminateRest,
	})
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, progressResponse{
		Advanced:   result.Advanced,
		Eliminated: result.Eliminated,
	})
}

type setRoundStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=upcoming ongoing completed"`
}

// SetStatus moves one round through its upcoming/ongoing/completed lifecycle.
func (h *RoundsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	number, err := strconv.Atoi(pathParam(r, "number"))
	if err != nil || number < 1 {
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", FieldError{Field: "number", Message: "must be a positive integer"}, h.Env)
		return
	}

	var req setRoundStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	if err := h.Events.SetRoundStatus(r.Context(), eventID, number, events.RoundStatus(req.Status)); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"number": number, "status": req.Status})
}

type repairResponse struct {
	Renumbered int `json:"renumbered"`
}

// RepairRounds fills in missing round numbers sequentially by start time.
// Idempotent data repair for events created before numbering was enforced.
func (h *RoundsHandler) RepairRounds(w http.ResponseWriter, r *http.Request) {
	eventID, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	count, err := h.Service.RepairRoundNumbers(r.Context(), eventID)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, repairResponse{Renumbered: count})
}

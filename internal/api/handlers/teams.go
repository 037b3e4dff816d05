package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/entranthq/server/internal/api/middleware"
	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/entranthq/server/internal/sanitize"
)

type TeamsHandler struct {
	Service *teams.Service
	Env     string
}

func NewTeamsHandler(service *teams.Service, env string) *TeamsHandler {
	return &TeamsHandler{Service: service, Env: env}
}

type createTeamRequest struct {
	EventID string `json:"event_id" validate:"required"`
	Name    string `json:"name" validate:"required,min=1,max=100"`
	MaxSize int    `json:"max_size" validate:"required,min=1,max=100"`
}

type teamMemberResponse struct {
	UserID   string `json:"user_id"`
	JoinedAt string `json:"joined_at"`
}

type teamResponse struct {
	ID       string               `json:"id"`
	EventID  string               `json:"event_id"`
	Name     string               `json:"name"`
	LeaderID string               `json:"leader_id"`
	MaxSize  int                  `json:"max_size"`
	Status   string               `json:"status"`
	Members  []teamMemberResponse `json:"members"`
}

func teamPayload(t *teams.Team) teamResponse {
	members := make([]teamMemberResponse, 0, len(t.Members))
	for _, m := range t.Members {
		members = append(members, teamMemberResponse{
			UserID:   m.UserID,
			JoinedAt: m.JoinedAt.Format(time.RFC3339),
		})
	}
	return teamResponse{
		ID:       t.ULID,
		EventID:  t.EventID,
		Name:     t.Name,
		LeaderID: t.LeaderID,
		MaxSize:  t.MaxSize,
		Status:   string(t.Status),
		Members:  members,
	}
}

func requireActor(w http.ResponseWriter, r *http.Request, env string) (registrations.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, typeForbidden, "Authentication required", nil, env)
		return registrations.Actor{}, false
	}
	return actor, true
}

// Create makes a team with the authenticated user as leader and first member.
func (h *TeamsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.Env)
	if !ok {
		return
	}

	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	team, err := h.Service.Create(r.Context(), teams.CreateInput{
		EventID:  req.EventID,
		Name:     sanitize.Text(req.Name),
		LeaderID: actor.ID,
		MaxSize:  req.MaxSize,
	})
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusCreated, teamPayload(team))
}

func (h *TeamsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}

	team, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, teamPayload(team))
}

// Join adds the authenticated user to the roster.
func (h *TeamsHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, ok := requireActor(w, r, h.Env)
	if !ok {
		return
	}

	if err := h.Service.AddMember(r.Context(), id, actor.ID, actor.ID); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	h.respondWithTeam(w, r, id)
}

// RemoveMember drops a member from the roster. Members can remove themselves;
// the leader can remove anyone but themselves.
func (h *TeamsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	userID := pathParam(r, "userID")
	if userID == "" {
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", FieldError{Field: "userID", Message: "missing"}, h.Env)
		return
	}
	actor, ok := requireActor(w, r, h.Env)
	if !ok {
		return
	}

	if err := h.Service.RemoveMember(r.Context(), id, actor.ID, userID); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	h.respondWithTeam(w, r, id)
}

type transferLeadershipRequest struct {
	NewLeaderID string `json:"new_leader_id" validate:"required"`
}

func (h *TeamsHandler) TransferLeadership(w http.ResponseWriter, r *http.Request) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, ok := requireActor(w, r, h.Env)
	if !ok {
		return
	}

	var req transferLeadershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	if err := h.Service.TransferLeadership(r.Context(), id, actor.ID, req.NewLeaderID); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	h.respondWithTeam(w, r, id)
}

// Lock freezes the roster, typically right before the event starts.
func (h *TeamsHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, (*teams.Service).Lock)
}

func (h *TeamsHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, (*teams.Service).Unlock)
}

func (h *TeamsHandler) Disband(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, (*teams.Service).Disband)
}

func (h *TeamsHandler) setStatus(w http.ResponseWriter, r *http.Request, op func(*teams.Service, context.Context, string, string) error) {
	id, ok := requireULID(w, r, "id", h.Env)
	if !ok {
		return
	}
	actor, ok := requireActor(w, r, h.Env)
	if !ok {
		return
	}

	if err := op(h.Service, r.Context(), id, actor.ID); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	h.respondWithTeam(w, r, id)
}

func (h *TeamsHandler) respondWithTeam(w http.ResponseWriter, r *http.Request, id string) {
	team, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, teamPayload(team))
}

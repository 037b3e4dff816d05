package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func createTeam(t *testing.T, h *TeamsHandler, leader string) teamResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/teams",
		strings.NewReader(`{"event_id":"ev1","name":"Compile Errors","max_size":3}`))
	actor := participant(leader)
	w := doRequest(h.Create, req, &actor, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeBody[teamResponse](t, w)
}

func TestCreateTeamHandler(t *testing.T) {
	f := newAPIFixture()
	h := NewTeamsHandler(f.teamService, "test")

	team := createTeam(t, h, "alice")
	require.Equal(t, "alice", team.LeaderID)
	require.Equal(t, "active", team.Status)
	require.Len(t, team.Members, 1)

	// The team name is sanitized on the way in.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/teams",
		strings.NewReader(`{"event_id":"ev1","name":"<script>alert(1)</script>Bits","max_size":3}`))
	actor := participant("bob")
	w := doRequest(h.Create, req, &actor, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "Bits", decodeBody[teamResponse](t, w).Name)
}

func TestJoinAndLeaveTeamHandler(t *testing.T) {
	f := newAPIFixture()
	h := NewTeamsHandler(f.teamService, "test")
	team := createTeam(t, h, "alice")
	path := map[string]string{"id": team.ID}

	bob := participant("bob")
	w := doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody[teamResponse](t, w).Members, 2)

	// Rejoining conflicts.
	w = doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusConflict, w.Code)

	// The leader removes bob.
	alice := participant("alice")
	removePath := map[string]string{"id": team.ID, "userID": "bob"}
	w = doRequest(h.RemoveMember, httptest.NewRequest(http.MethodDelete, "/", nil), &alice, removePath)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody[teamResponse](t, w).Members, 1)

	// A stranger cannot remove members.
	w = doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusOK, w.Code)
	carol := participant("carol")
	w = doRequest(h.RemoveMember, httptest.NewRequest(http.MethodDelete, "/", nil), &carol, removePath)
	require.Equal(t, http.StatusForbidden, w.Code)

	// The leader cannot be removed.
	leaderPath := map[string]string{"id": team.ID, "userID": "alice"}
	w = doRequest(h.RemoveMember, httptest.NewRequest(http.MethodDelete, "/", nil), &alice, leaderPath)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestLockUnlockHandler(t *testing.T) {
	f := newAPIFixture()
	h := NewTeamsHandler(f.teamService, "test")
	team := createTeam(t, h, "alice")
	path := map[string]string{"id": team.ID}
	alice := participant("alice")
	bob := participant("bob")

	w := doRequest(h.Lock, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(h.Lock, httptest.NewRequest(http.MethodPost, "/", nil), &alice, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "locked", decodeBody[teamResponse](t, w).Status)

	// Locked rosters reject joins.
	w = doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(h.Unlock, httptest.NewRequest(http.MethodPost, "/", nil), &alice, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "active", decodeBody[teamResponse](t, w).Status)
}

func TestTransferLeadershipHandler(t *testing.T) {
	f := newAPIFixture()
	h := NewTeamsHandler(f.teamService, "test")
	team := createTeam(t, h, "alice")
	path := map[string]string{"id": team.ID}
	alice := participant("alice")
	bob := participant("bob")

	w := doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"new_leader_id":"bob"}`))
	w = doRequest(h.TransferLeadership, req, &alice, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "bob", decodeBody[teamResponse](t, w).LeaderID)
}

func TestDisbandHandler(t *testing.T) {
	f := newAPIFixture()
	h := NewTeamsHandler(f.teamService, "test")
	team := createTeam(t, h, "alice")
	path := map[string]string{"id": team.ID}
	alice := participant("alice")

	w := doRequest(h.Disband, httptest.NewRequest(http.MethodPost, "/", nil), &alice, path)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "disbanded", decodeBody[teamResponse](t, w).Status)

	bob := participant("bob")
	w = doRequest(h.Join, httptest.NewRequest(http.MethodPost, "/", nil), &bob, path)
	require.Equal(t, http.StatusConflict, w.Code)
}

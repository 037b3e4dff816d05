package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/ids"
	"github.com/stretchr/testify/require"
)

func TestEventGet(t *testing.T) {
	f := newAPIFixture()
	eventULID, err := ids.NewULID()
	require.NoError(t, err)
	roundStart := handlerClock.Add(100 * time.Hour)
	f.eventRepo.events[eventULID] = &events.Event{
		ID:                   eventULID,
		ULID:                 eventULID,
		Name:                 "Entrant Finals",
		Status:               events.StatusPublished,
		IsPaid:               true,
		AmountCents:          5000,
		Currency:             "INR",
		StartsAt:             handlerClock.Add(96 * time.Hour),
		RegistrationClosesAt: handlerClock.Add(48 * time.Hour),
		RefundPolicy: events.RefundPolicy{
			{HoursBefore: 48, Percentage: 100},
			{HoursBefore: 24, Percentage: 50},
		},
		Rounds: []events.Round{
			{Number: 1, Name: "Qualifiers", Status: events.RoundOngoing, StartsAt: &roundStart},
		},
	}
	h := NewEventsHandler(f.eventRepo, "test")

	w := doRequest(h.Get, httptest.NewRequest(http.MethodGet, "/", nil), nil, map[string]string{"id": eventULID})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody[eventResponse](t, w)
	require.Equal(t, eventULID, body.ID)
	require.Equal(t, "Entrant Finals", body.Name)
	require.True(t, body.IsPaid)
	require.Len(t, body.RefundPolicy, 2)
	require.Equal(t, 100, body.RefundPolicy[0].Percentage)
	require.Len(t, body.Rounds, 1)
	require.Equal(t, "ongoing", body.Rounds[0].Status)
}

func TestEventGetInvalidID(t *testing.T) {
	f := newAPIFixture()
	h := NewEventsHandler(f.eventRepo, "test")

	w := doRequest(h.Get, httptest.NewRequest(http.MethodGet, "/", nil), nil, map[string]string{"id": "ev1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventGetNotFound(t *testing.T) {
	f := newAPIFixture()
	h := NewEventsHandler(f.eventRepo, "test")
	unknown, err := ids.NewULID()
	require.NoError(t, err)

	w := doRequest(h.Get, httptest.NewRequest(http.MethodGet, "/", nil), nil, map[string]string{"id": unknown})
	require.Equal(t, http.StatusNotFound, w.Code)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/progression"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
)

// writeDomainError maps domain sentinel errors onto problem responses. Errors
// with no mapping fall through to a 500 so new sentinels fail loudly instead
// of leaking as misleading client errors.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, env string) {
	switch {
	case errors.Is(err, registrations.ErrNotFound),
		errors.Is(err, events.ErrNotFound),
		errors.Is(err, events.ErrRoundNotFound),
		errors.Is(err, payments.ErrNotFound),
		errors.Is(err, payments.ErrRefundNotFound),
		errors.Is(err, teams.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, typeNotFound, "Not found", err, env)

	case errors.Is(err, registrations.ErrDuplicateRegistration),
		errors.Is(err, registrations.ErrCapacityExceeded),
		errors.Is(err, registrations.ErrAlreadyTerminal),
		errors.Is(err, registrations.ErrInvalidTransition),
		errors.Is(err, registrations.ErrCheckedIn),
		errors.Is(err, registrations.ErrIdempotencyConflict),
		errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrAlreadyProcessed),
		errors.Is(err, teams.ErrTeamFull),
		errors.Is(err, teams.ErrAlreadyMember),
		errors.Is(err, teams.ErrTeamLocked),
		errors.Is(err, teams.ErrTeamDisbanded),
		errors.Is(err, teams.ErrLeaderRemoval),
		errors.Is(err, teams.ErrNotLocked):
		problem.Write(w, r, http.StatusConflict, typeConflict, "Conflict", err, env)

	case errors.Is(err, registrations.ErrForbidden),
		errors.Is(err, teams.ErrNotLeader):
		problem.Write(w, r, http.StatusForbidden, typeForbidden, "Forbidden", err, env)

	case errors.Is(err, registrations.ErrEventNotOpen),
		errors.Is(err, registrations.ErrNotOpenYet),
		errors.Is(err, registrations.ErrDeadlinePassed),
		errors.Is(err, registrations.ErrNotTeamMember),
		errors.Is(err, registrations.ErrTeamDisbanded),
		errors.Is(err, teams.ErrNotMember),
		errors.Is(err, payments.ErrPaymentNotRequired),
		errors.Is(err, payments.ErrUnknownGateway),
		errors.Is(err, payments.ErrSignatureMismatch),
		errors.Is(err, progression.ErrInvalidRoundOrder),
		errors.Is(err, progression.ErrRoundNotOngoing),
		errors.Is(err, progression.ErrNoTeams),
		isTeamSizeError(err),
		isFieldError(err):
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", err, env)

	case errors.Is(err, payments.ErrGatewayFailure):
		problem.Write(w, r, http.StatusBadGateway, typeGatewayError, "Payment gateway error", err, env)

	default:
		problem.Write(w, r, http.StatusInternalServerError, typeServerError, "Server error", err, env)
	}
}

// rejectionReason classifies a failed registration attempt for metrics;
// empty string means the failure is not a domain rejection.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, registrations.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, registrations.ErrDuplicateRegistration):
		return "duplicate"
	case errors.Is(err, registrations.ErrEventNotOpen),
		errors.Is(err, registrations.ErrNotOpenYet),
		errors.Is(err, registrations.ErrDeadlinePassed):
		return "window"
	case errors.Is(err, registrations.ErrNotTeamMember),
		errors.Is(err, registrations.ErrTeamDisbanded),
		isTeamSizeError(err):
		return "team"
	}
	return ""
}

func isTeamSizeError(err error) bool {
	var tse registrations.TeamSizeError
	return errors.As(err, &tse)
}

func isFieldError(err error) bool {
	var fe FieldError
	return errors.As(err, &fe)
}

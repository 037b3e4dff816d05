// Package storage groups the persistence contracts the domain packages
// define. The postgres subpackage is the production implementation; the
// capacity/uniqueness invariants live there, in constraints and conditional
// writes, not in application code.
package storage

import (
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
)

// Repository groups data access by domain.
type Repository interface {
	Events() events.Repository
	Registrations() registrations.Repository
	RegistrationIdempotency() registrations.IdempotencyStore
	Teams() teams.Repository
	Payments() payments.Repository
	Refunds() payments.RefundRepository
	Webhooks() payments.WebhookRepository
}

// Package internal documents the Entrant server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem responses, and routing
// - domain: registration, payment, team, and progression business logic
// - storage: Postgres repositories and migrations
// - jobs: River background workers for refunds and reconciliation
// - gateway: payment provider clients
// - auth, audit, config, metrics, notify: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal

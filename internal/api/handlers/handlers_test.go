package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/entranthq/server/internal/api/middleware"
	"github.com/entranthq/server/internal/auth"
	"github.com/entranthq/server/internal/domain/events"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/entranthq/server/internal/domain/teams"
	"github.com/entranthq/server/internal/gateway"
)

// In-memory repositories backing the handler tests. They honor the same
// conditional-update contracts as the Postgres implementations.

var handlerClock = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type memEventRepo struct {
	events map[string]*events.Event
}

func (m *memEventRepo) GetByULID(_ context.Context, ulid string) (*events.Event, error) {
	ev, ok := m.events[ulid]
	if !ok {
		return nil, events.ErrNotFound
	}
	return ev, nil
}

func (m *memEventRepo) RepairRoundNumbers(context.Context, string) (int, error) { return 0, nil }

func (m *memEventRepo) SetRoundStatus(_ context.Context, eventID string, number int, status events.RoundStatus) error {
	ev, ok := m.events[eventID]
	if !ok {
		return events.ErrNotFound
	}
	round, err := ev.Round(number)
	if err != nil {
		return err
	}
	round.Status = status
	return nil
}

type memTeamRepo struct {
	teams map[string]*teams.Team
}

func (m *memTeamRepo) Create(_ context.Context, team *teams.Team) error {
	team.ID = team.ULID
	team.Members = []teams.Member{{UserID: team.LeaderID, JoinedAt: handlerClock}}
	m.teams[team.ULID] = team
	return nil
}

func (m *memTeamRepo) GetByULID(_ context.Context, ulid string) (*teams.Team, error) {
	team, ok := m.teams[ulid]
	if !ok {
		return nil, teams.ErrNotFound
	}
	copied := *team
	copied.Members = append([]teams.Member(nil), team.Members...)
	return &copied, nil
}

func (m *memTeamRepo) AddMember(_ context.Context, teamULID, userID string) error {
	team, ok := m.teams[teamULID]
	if !ok {
		return teams.ErrNotFound
	}
	if len(team.Members) >= team.MaxSize {
		return teams.ErrTeamFull
	}
	team.Members = append(team.Members, teams.Member{UserID: userID, JoinedAt: handlerClock})
	return nil
}

func (m *memTeamRepo) RemoveMember(_ context.Context, teamULID, userID string) error {
	team, ok := m.teams[teamULID]
	if !ok {
		return teams.ErrNotFound
	}
	for i, member := range team.Members {
		if member.UserID == userID {
			team.Members = append(team.Members[:i], team.Members[i+1:]...)
			return nil
		}
	}
	return teams.ErrNotMember
}

func (m *memTeamRepo) SetLeader(_ context.Context, teamULID, userID string) error {
	team, ok := m.teams[teamULID]
	if !ok {
		return teams.ErrNotFound
	}
	team.LeaderID = userID
	return nil
}

func (m *memTeamRepo) SetStatus(_ context.Context, teamULID string, from, to teams.Status) error {
	team, ok := m.teams[teamULID]
	if !ok {
		return teams.ErrNotFound
	}
	if team.Status != from {
		return teams.ErrNotLocked
	}
	team.Status = to
	return nil
}

type memRegRepo struct {
	regs     map[string]*registrations.Registration
	capacity map[string]int
	claimed  map[string]int
	seq      int
}

func newMemRegRepo() *memRegRepo {
	return &memRegRepo{
		regs:     make(map[string]*registrations.Registration),
		capacity: make(map[string]int),
		claimed:  make(map[string]int),
	}
}

func (m *memRegRepo) Claim(_ context.Context, reg *registrations.Registration) error {
	if max, ok := m.capacity[reg.EventID]; ok && m.claimed[reg.EventID] >= max {
		return registrations.ErrCapacityExceeded
	}
	for _, r := range m.regs {
		if r.EventID == reg.EventID && r.UserID == reg.UserID && r.Status.Active() {
			return registrations.ErrDuplicateRegistration
		}
	}
	m.seq++
	reg.RegistrationNumber = fmt.Sprintf("ENT-2026-%06d", m.seq)
	reg.CreatedAt = handlerClock
	reg.UpdatedAt = handlerClock
	m.claimed[reg.EventID]++
	stored := *reg
	m.regs[reg.ULID] = &stored
	return nil
}

func (m *memRegRepo) Release(_ context.Context, ulid string) (bool, error) {
	reg, ok := m.regs[ulid]
	if !ok || reg.SlotReleased {
		return false, nil
	}
	reg.SlotReleased = true
	m.claimed[reg.EventID]--
	return true, nil
}

func (m *memRegRepo) GetByULID(_ context.Context, ulid string) (*registrations.Registration, error) {
	reg, ok := m.regs[ulid]
	if !ok {
		return nil, registrations.ErrNotFound
	}
	copied := *reg
	return &copied, nil
}

func (m *memRegRepo) Terminate(_ context.Context, params registrations.TerminateParams) error {
	reg, ok := m.regs[params.ULID]
	if !ok {
		return registrations.ErrNotFound
	}
	if reg.Status.Terminal() {
		return registrations.ErrInvalidTransition
	}
	reg.Status = params.To
	reg.CancelledReason = params.Reason
	if !reg.SlotReleased {
		reg.SlotReleased = true
		m.claimed[reg.EventID]--
	}
	if params.Refund != nil {
		reg.PaymentStatus = registrations.PaymentRefundPending
	}
	return nil
}

func (m *memRegRepo) SetStatus(_ context.Context, ulid string, from, to registrations.Status) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	if reg.Status != from {
		return registrations.ErrInvalidTransition
	}
	reg.Status = to
	return nil
}

func (m *memRegRepo) ConfirmFromWaitlist(_ context.Context, ulid string) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	if max, ok := m.capacity[reg.EventID]; ok && m.claimed[reg.EventID] >= max {
		return registrations.ErrCapacityExceeded
	}
	m.claimed[reg.EventID]++
	reg.Status = registrations.StatusConfirmed
	reg.SlotReleased = false
	return nil
}

func (m *memRegRepo) MoveToWaitlist(_ context.Context, ulid string) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	if !reg.Status.CanTransitionTo(registrations.StatusWaitlisted) {
		return registrations.ErrInvalidTransition
	}
	reg.Status = registrations.StatusWaitlisted
	if !reg.SlotReleased {
		reg.SlotReleased = true
		m.claimed[reg.EventID]--
	}
	return nil
}

func (m *memRegRepo) SetPaymentStatus(_ context.Context, ulid string, status registrations.PaymentStatus) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	reg.PaymentStatus = status
	return nil
}

func (m *memRegRepo) SetCheckedIn(_ context.Context, ulid string, at time.Time) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	reg.CheckedIn = true
	reg.CheckedInAt = &at
	return nil
}

func (m *memRegRepo) ListActiveByTeam(_ context.Context, teamID string) ([]registrations.Registration, error) {
	var out []registrations.Registration
	for _, r := range m.regs {
		if r.TeamID != nil && *r.TeamID == teamID && r.Status.Active() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRegRepo) ListByEventAndRound(_ context.Context, eventID string, round int) ([]registrations.Registration, error) {
	var out []registrations.Registration
	for _, r := range m.regs {
		if r.EventID == eventID && r.Status.Active() && r.EliminatedInRound == nil && r.CurrentRound == round {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRegRepo) AdvanceToRound(_ context.Context, ulid string, toRound int) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	if !reg.AdvancedTo(toRound) {
		reg.AdvancedToRounds = append(reg.AdvancedToRounds, toRound)
	}
	reg.CurrentRound = toRound
	reg.EliminatedInRound = nil
	return nil
}

func (m *memRegRepo) Eliminate(_ context.Context, ulid string, round int) error {
	reg, ok := m.regs[ulid]
	if !ok {
		return registrations.ErrNotFound
	}
	reg.EliminatedInRound = &round
	return nil
}

func (m *memRegRepo) CountActive(_ context.Context, eventID string) (int, error) {
	return m.claimed[eventID], nil
}

type memIdemStore struct {
	records map[string]*registrations.IdempotencyRecord
}

func (m *memIdemStore) GetIdempotencyRecord(_ context.Context, key string) (*registrations.IdempotencyRecord, error) {
	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *memIdemStore) InsertIdempotencyRecord(_ context.Context, record registrations.IdempotencyRecord) error {
	if _, ok := m.records[record.Key]; ok {
		return nil
	}
	stored := record
	m.records[record.Key] = &stored
	return nil
}

func (m *memIdemStore) BindIdempotencyRecord(_ context.Context, key, registrationULID string) error {
	m.records[key].RegistrationULID = &registrationULID
	return nil
}

type memPaymentRepo struct {
	payments map[string]*payments.Payment
	regs     *memRegRepo
}

func (m *memPaymentRepo) UpsertIntent(_ context.Context, payment *payments.Payment) error {
	for _, p := range m.payments {
		if p.RegistrationID == payment.RegistrationID {
			if p.Status == payments.StatusCompleted {
				return payments.ErrAlreadyPaid
			}
			p.Gateway = payment.Gateway
			p.OrderID = payment.OrderID
			p.Status = payments.StatusPending
			*payment = *p
			return nil
		}
	}
	payment.CreatedAt = handlerClock
	stored := *payment
	m.payments[payment.ULID] = &stored
	return nil
}

func (m *memPaymentRepo) GetByULID(_ context.Context, ulid string) (*payments.Payment, error) {
	p, ok := m.payments[ulid]
	if !ok {
		return nil, payments.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memPaymentRepo) GetByRegistration(_ context.Context, registrationULID string) (*payments.Payment, error) {
	for _, p := range m.payments {
		if p.RegistrationID == registrationULID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (m *memPaymentRepo) GetByOrderID(_ context.Context, orderID string) (*payments.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (m *memPaymentRepo) Complete(_ context.Context, params payments.CompleteParams) (*payments.CompleteResult, error) {
	var payment *payments.Payment
	for _, p := range m.payments {
		if p.OrderID == params.OrderID {
			payment = p
			break
		}
	}
	if payment == nil {
		return nil, payments.ErrNotFound
	}
	if payment.Status == payments.StatusCompleted {
		copied := *payment
		return &payments.CompleteResult{Payment: &copied, Replay: true}, nil
	}
	payment.Status = payments.StatusCompleted
	tx := params.TransactionID
	payment.TransactionID = &tx
	paidAt := params.PaidAt
	payment.PaidAt = &paidAt

	result := &payments.CompleteResult{}
	reg := m.regs.regs[payment.RegistrationID]
	if reg.Status.Terminal() {
		reg.PaymentStatus = registrations.PaymentRefundPending
		result.RefundSeeded = true
	} else {
		reg.PaymentStatus = registrations.PaymentPaid
		if reg.Status == registrations.StatusPending {
			reg.Status = registrations.StatusConfirmed
		}
	}
	result.RegistrationStatus = reg.Status
	copied := *payment
	result.Payment = &copied
	return result, nil
}

func (m *memPaymentRepo) MarkFailed(_ context.Context, orderID string, _ []byte) error {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			if p.Status != payments.StatusCompleted {
				p.Status = payments.StatusFailed
			}
			return nil
		}
	}
	return payments.ErrNotFound
}

func (m *memPaymentRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]payments.Payment, error) {
	var out []payments.Payment
	for _, p := range m.payments {
		if p.Status == payments.StatusPending && p.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memRefundRepo struct {
	refunds map[string]*payments.Refund
}

func (m *memRefundRepo) GetByULID(_ context.Context, ulid string) (*payments.Refund, error) {
	r, ok := m.refunds[ulid]
	if !ok {
		return nil, payments.ErrRefundNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memRefundRepo) Reject(_ context.Context, ulid, actorID string, at time.Time) error {
	r, ok := m.refunds[ulid]
	if !ok {
		return payments.ErrRefundNotFound
	}
	if r.Status != payments.RefundPending {
		return payments.ErrAlreadyProcessed
	}
	r.Status = payments.RefundRejected
	r.ProcessedBy = &actorID
	r.ProcessedAt = &at
	return nil
}

func (m *memRefundRepo) MarkCompleted(_ context.Context, params payments.CompleteRefundParams) error {
	r, ok := m.refunds[params.ULID]
	if !ok {
		return payments.ErrRefundNotFound
	}
	if r.Status != payments.RefundPending && r.Status != payments.RefundFailed {
		return payments.ErrAlreadyProcessed
	}
	r.Status = payments.RefundCompleted
	r.GatewayRefundID = &params.GatewayRefundID
	r.RefundAmountCents = &params.AmountCents
	r.ProcessedBy = &params.ProcessedBy
	r.ProcessedAt = &params.ProcessedAt
	return nil
}

func (m *memRefundRepo) MarkFailed(_ context.Context, ulid, reason string) error {
	r, ok := m.refunds[ulid]
	if !ok {
		return payments.ErrRefundNotFound
	}
	r.Status = payments.RefundFailed
	r.FailureReason = reason
	r.Attempts++
	return nil
}

func (m *memRefundRepo) ListRetryable(_ context.Context, maxAttempts, limit int) ([]payments.Refund, error) {
	var out []payments.Refund
	for _, r := range m.refunds {
		if r.Status == payments.RefundFailed && r.Attempts < maxAttempts && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memWebhookRepo struct {
	seen map[string]bool
}

func (m *memWebhookRepo) Record(_ context.Context, gatewayName, eventID string, _ []byte) (bool, error) {
	key := gatewayName + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

// scriptedGateway lets each test dictate gateway behavior.
type scriptedGateway struct {
	name       string
	orders     int
	proofErr   error
	webhookErr error
	parsed     *gateway.WebhookEvent
	refundErr  error
	refundID   string
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) CreateOrder(_ context.Context, input gateway.CreateOrderInput) (*gateway.Order, error) {
	g.orders++
	return &gateway.Order{
		ID:          fmt.Sprintf("order_%d", g.orders),
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
	}, nil
}

func (g *scriptedGateway) VerifyProof(gateway.Proof) error { return g.proofErr }

func (g *scriptedGateway) VerifyWebhook([]byte, string) error { return g.webhookErr }

func (g *scriptedGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	ev := *g.parsed
	ev.Raw = payload
	return &ev, nil
}

func (g *scriptedGateway) Refund(context.Context, gateway.RefundInput) (*gateway.RefundResult, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundResult{RefundID: g.refundID}, nil
}

// apiFixture wires real services over the in-memory repositories.
type apiFixture struct {
	eventRepo *memEventRepo
	teamRepo  *memTeamRepo
	regRepo   *memRegRepo
	idemStore *memIdemStore
	payRepo   *memPaymentRepo
	refunds   *memRefundRepo
	gw        *scriptedGateway

	regService  *registrations.Service
	payService  *payments.Service
	teamService *teams.Service
}

func newAPIFixture() *apiFixture {
	ev := &events.Event{
		ID:                   "ev1",
		ULID:                 "ev1",
		Name:                 "Hack Night",
		Status:               events.StatusPublished,
		StartsAt:             handlerClock.Add(96 * time.Hour),
		RegistrationClosesAt: handlerClock.Add(48 * time.Hour),
	}
	f := &apiFixture{
		eventRepo: &memEventRepo{events: map[string]*events.Event{"ev1": ev}},
		teamRepo:  &memTeamRepo{teams: map[string]*teams.Team{}},
		regRepo:   newMemRegRepo(),
		idemStore: &memIdemStore{records: map[string]*registrations.IdempotencyRecord{}},
		refunds:   &memRefundRepo{refunds: map[string]*payments.Refund{}},
		gw:        &scriptedGateway{name: "razorpay", refundID: "rfnd_1"},
	}
	f.payRepo = &memPaymentRepo{payments: map[string]*payments.Payment{}, regs: f.regRepo}

	clock := registrations.WithClock(func() time.Time { return handlerClock })
	f.regService = registrations.NewService(f.eventRepo, f.teamRepo, f.regRepo, nil, clock,
		registrations.WithIdempotencyStore(f.idemStore))
	f.payService = payments.NewService(
		f.eventRepo, f.regRepo, f.payRepo, f.refunds,
		&memWebhookRepo{seen: map[string]bool{}},
		gateway.NewRegistry(f.gw), nil,
		payments.WithClock(func() time.Time { return handlerClock }),
	)
	f.teamService = teams.NewService(f.teamRepo)
	return f
}

func participant(id string) registrations.Actor {
	return registrations.Actor{ID: id, Role: auth.RoleParticipant}
}

func organizer(id string) registrations.Actor {
	return registrations.Actor{ID: id, Role: auth.RoleOrganizer}
}

// doRequest runs a handler with optional path values and actor context.
func doRequest(h http.HandlerFunc, r *http.Request, actor *registrations.Actor, pathValues map[string]string) *httptest.ResponseRecorder {
	for key, value := range pathValues {
		r.SetPathValue(key, value)
	}
	if actor != nil {
		r = r.WithContext(middleware.WithActor(r.Context(), *actor))
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

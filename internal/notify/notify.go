package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/entranthq/server/internal/config"
	"github.com/entranthq/server/internal/domain/payments"
	"github.com/entranthq/server/internal/domain/registrations"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// Recipients resolves a user id to a deliverable email address. The identity
// provider owns user profiles; this is the one seam the notifier needs from
// it. Implementations return ok=false for users with no address on file.
type Recipients interface {
	EmailFor(ctx context.Context, userID string) (string, bool)
}

// EmailIDRecipients treats user ids that already are email addresses as
// deliverable. Deployments where the JWT subject is the user's email need no
// directory round trip.
type EmailIDRecipients struct{}

func (EmailIDRecipients) EmailFor(_ context.Context, userID string) (string, bool) {
	if _, err := mail.ParseAddress(userID); err != nil {
		return "", false
	}
	return userID, true
}

// RegistrationSource resolves registration ids to rows so payment-side
// notices can reach the registered user. registrations.Repository satisfies
// it.
type RegistrationSource interface {
	GetByULID(ctx context.Context, ulid string) (*registrations.Registration, error)
}

// Service sends participant-facing notifications through Resend. Every send
// is fire and forget: failures are logged, never propagated, so notification
// trouble cannot fail a registration or a payment.
type Service struct {
	client     *resend.Client
	from       string
	recipients Recipients
	regs       RegistrationSource
	logger     zerolog.Logger
}

func NewService(cfg config.NotifyConfig, recipients Recipients, regs RegistrationSource, logger zerolog.Logger) *Service {
	s := &Service{
		from:       cfg.FromAddress,
		recipients: recipients,
		regs:       regs,
		logger:     logger.With().Str("component", "notify").Logger(),
	}
	if cfg.ResendAPIKey != "" {
		s.client = resend.NewClient(cfg.ResendAPIKey)
	}
	if s.recipients == nil {
		s.recipients = EmailIDRecipients{}
	}
	return s
}

// RegistrationCreated satisfies the registrations notifier.
func (s *Service) RegistrationCreated(ctx context.Context, reg *registrations.Registration) {
	subject := fmt.Sprintf("Registration %s received", reg.RegistrationNumber)
	body := fmt.Sprintf("<p>Your registration <strong>%s</strong> is %s.</p>", reg.RegistrationNumber, reg.Status)
	if reg.Status == registrations.StatusWaitlisted {
		body += "<p>You are on the waitlist and will be confirmed automatically if a slot opens.</p>"
	}
	s.deliver(ctx, reg.UserID, subject, body)
}

func (s *Service) RegistrationCancelled(ctx context.Context, reg *registrations.Registration) {
	subject := fmt.Sprintf("Registration %s cancelled", reg.RegistrationNumber)
	body := fmt.Sprintf("<p>Your registration <strong>%s</strong> has been cancelled.</p>", reg.RegistrationNumber)
	if reg.PaymentStatus == registrations.PaymentRefundPending {
		body += "<p>Your payment is queued for refund review.</p>"
	}
	s.deliver(ctx, reg.UserID, subject, body)
}

// InvoiceIssued satisfies the payments notifier.
func (s *Service) InvoiceIssued(ctx context.Context, payment *payments.Payment) {
	subject := "Payment received"
	body := fmt.Sprintf("<p>We received your payment of <strong>%s</strong> (order %s).</p>",
		formatAmount(payment.AmountCents, payment.Currency), payment.OrderID)
	s.deliverForRegistration(ctx, payment.RegistrationID, subject, body)
}

func (s *Service) RefundProcessed(ctx context.Context, refund *payments.Refund) {
	var subject, body string
	switch refund.Status {
	case payments.RefundCompleted:
		subject = "Refund issued"
		amount := refund.Amount()
		if refund.RefundAmountCents != nil {
			amount = *refund.RefundAmountCents
		}
		body = fmt.Sprintf("<p>Your refund of <strong>%d.%02d</strong> has been issued (%d%% of the original amount).</p>",
			amount/100, amount%100, refund.RefundPercentage)
	case payments.RefundRejected:
		subject = "Refund request declined"
		body = "<p>Your refund request was reviewed and declined.</p>"
	default:
		return
	}
	s.deliverForRegistration(ctx, refund.RegistrationID, subject, body)
}

// TeamAdvanced satisfies the progression notifier. Team-level outcomes fan
// out per member through RegistrationEliminated and the next round's
// schedule, so the team notice is log-only.
func (s *Service) TeamAdvanced(_ context.Context, eventID, teamID string, toRound int) {
	s.logger.Info().
		Str("event", eventID).
		Str("team", teamID).
		Int("round", toRound).
		Msg("team advanced")
}

func (s *Service) RegistrationEliminated(ctx context.Context, reg *registrations.Registration, round int) {
	subject := fmt.Sprintf("Eliminated in round %d", round)
	body := fmt.Sprintf("<p>Registration <strong>%s</strong> was eliminated in round %d. Thanks for competing.</p>",
		reg.RegistrationNumber, round)
	s.deliver(ctx, reg.UserID, subject, body)
}

// deliverForRegistration is used where the caller holds only a registration
// id; the registration row supplies the user.
func (s *Service) deliverForRegistration(ctx context.Context, registrationID, subject, body string) {
	if s.regs == nil {
		return
	}
	reg, err := s.regs.GetByULID(ctx, registrationID)
	if err != nil {
		s.logger.Warn().Str("registration", registrationID).Err(err).Msg("notification recipient lookup failed")
		return
	}
	s.deliver(ctx, reg.UserID, subject, body)
}

func (s *Service) deliver(ctx context.Context, userID, subject, body string) {
	to, ok := s.recipients.EmailFor(ctx, userID)
	if !ok {
		s.logger.Debug().Str("user", userID).Str("subject", subject).Msg("no address on file, notification skipped")
		return
	}
	if err := validateAddress(to); err != nil {
		s.logger.Warn().Str("user", userID).Err(err).Msg("refusing to send to malformed address")
		return
	}
	if s.client == nil {
		s.logger.Info().Str("to", to).Str("subject", subject).Msg("notifications disabled, skipping send")
		return
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		s.logger.Warn().Str("to", to).Str("subject", subject).Err(err).Msg("notification send failed")
		return
	}
	s.logger.Info().Str("email_id", sent.Id).Str("to", to).Str("subject", subject).Msg("notification sent")
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", strings.ToUpper(currency), cents/100, cents%100)
}

// validateAddress rejects malformed addresses and header injection attempts.
func validateAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("address contains newline characters")
	}
	return nil
}

package payments

import (
	"context"

	"github.com/google/uuid"

	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/paystack"
)

// HandleWebhook authenticates a provider event and hands charge events to
// the signal sink. Unrelated events are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ctx, span := tracer.Start(ctx, "payments.HandleWebhook")
	defer span.End()

	if s.cfg.WebhookSecret == "" {
		s.logger.ErrorContext(ctx, "webhook rejected: secret is not configured")
		return failure.Auth("webhook signature cannot be verified")
	}
	if !paystack.VerifySignature(s.cfg.WebhookSecret, body, signature) {
		s.logger.WarnContext(ctx, "webhook rejected: invalid signature")
		return failure.Auth("invalid signature")
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		return failure.Validation("malformed webhook payload")
	}
	if ev.Event != paystack.EventChargeSuccess && ev.Event != paystack.EventChargeFailed {
		s.logger.DebugContext(ctx, "webhook event ignored", "event", ev.Event)
		return nil
	}
	if ev.Data.Reference == "" {
		return failure.Validation("webhook event has no reference")
	}

	sig := Signal{Reference: ev.Data.Reference, Source: SourceWebhook}
	if id, err := uuid.Parse(ev.Data.MetadataString("booking_id")); err == nil {
		sig.BookingID = id
	}
	s.logger.InfoContext(ctx, "webhook accepted", "event", ev.Event, "reference", sig.Reference)
	return s.sink.Submit(ctx, sig)
}

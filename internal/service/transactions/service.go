// Package transactions keeps the append-only payment ledger.
package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/failure"
	"salonbook/backend/internal/store"
	"salonbook/backend/internal/validation"
)

type Service struct {
	repo   store.TransactionRepository
	logger *slog.Logger
}

func NewService(repo store.TransactionRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With("component", "transactions")}
}

// Entry is one provider outcome to be recorded.
type Entry struct {
	BookingID     uuid.UUID
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	Status        domain.TransactionStatus
	CustomerEmail string
	ServiceName   string
	Payload       json.RawMessage
}

// Record stores e unless the reference is already recorded. The existing
// row is returned untouched in that case.
func (s *Service) Record(ctx context.Context, e Entry) (domain.Transaction, bool, error) {
	return s.RecordWith(ctx, s.repo, e)
}

// RecordWith is Record against w, usually an open payment transaction.
func (s *Service) RecordWith(ctx context.Context, w store.TransactionWriter, e Entry) (domain.Transaction, bool, error) {
	t, err := e.transaction()
	if err != nil {
		return domain.Transaction{}, false, err
	}
	out, created, err := w.InsertTransactionIfAbsent(ctx, t)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if created {
		s.logger.InfoContext(ctx, "transaction recorded",
			"reference", out.Reference,
			"status", out.Status,
			"amount", out.Amount.StringFixed(2),
		)
	} else {
		s.logger.DebugContext(ctx, "transaction already recorded", "reference", out.Reference)
	}
	return out, created, nil
}

func (e Entry) transaction() (domain.Transaction, error) {
	ref := strings.TrimSpace(e.Reference)
	if ref == "" {
		return domain.Transaction{}, failure.Validation("reference is required")
	}
	switch e.Status {
	case domain.TransactionStatusSuccess, domain.TransactionStatusFailed, domain.TransactionStatusPending:
	default:
		return domain.Transaction{}, failure.Validation("invalid transaction status")
	}
	t := domain.Transaction{
		Reference:     ref,
		Amount:        e.Amount,
		Currency:      strings.ToUpper(e.Currency),
		Status:        e.Status,
		CustomerEmail: e.CustomerEmail,
		ServiceName:   e.ServiceName,
		Payload:       e.Payload,
	}
	if t.CustomerEmail == "" {
		t.CustomerEmail = "unknown"
	}
	if t.ServiceName == "" {
		t.ServiceName = "Unknown Service"
	}
	if len(t.Payload) == 0 {
		t.Payload = json.RawMessage("{}")
	}
	if e.BookingID != uuid.Nil {
		id := e.BookingID
		t.BookingID = &id
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, reference string) (domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Transaction{}, failure.Validation("reference is required")
	}
	t, err := s.repo.GetTransactionByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transaction{}, failure.NotFound("transaction")
	}
	if err != nil {
		return domain.Transaction{}, failure.Internal(err)
	}
	return t, nil
}

type ListInput struct {
	Status    string `json:"status" validate:"omitempty,oneof=success failed pending"`
	BookingID string `json:"booking_id" validate:"omitempty,uuid"`
	Limit     int    `json:"limit" validate:"gte=0,lte=500"`
	Offset    int    `json:"offset" validate:"gte=0"`
}

// List returns transactions newest first.
func (s *Service) List(ctx context.Context, in ListInput) ([]domain.Transaction, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	filter := store.TransactionFilter{
		Status: domain.TransactionStatus(in.Status),
		Limit:  in.Limit,
		Offset: in.Offset,
	}
	if in.BookingID != "" {
		filter.BookingID = uuid.MustParse(in.BookingID)
	}
	out, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return out, nil
}

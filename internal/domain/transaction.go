package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TransactionStatus string

const (
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
	TransactionStatusPending TransactionStatus = "pending"
)

// Transaction is the append-only record of one payment attempt outcome. At
// most one row exists per provider reference.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID            uuid.UUID         `bun:"id,pk,type:uuid"`
	BookingID     *uuid.UUID        `bun:"booking_id,type:uuid"`
	Reference     string            `bun:"reference,notnull,unique"`
	Amount        decimal.Decimal   `bun:"amount,notnull,type:numeric(12,2)"`
	Currency      string            `bun:"currency,notnull"`
	Status        TransactionStatus `bun:"status,notnull"`
	CustomerEmail string            `bun:"customer_email,notnull"`
	ServiceName   string            `bun:"service_name,notnull"`
	Payload       json.RawMessage   `bun:"payload,type:jsonb"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
}

func (t *Transaction) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if t.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			t.ID = id
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount (cedis, naira) to the provider's
// minor unit (pesewas, kobo).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Deposit returns percent of price, rounded to two places. Percentages outside
// (0, 100) charge the full price.
func Deposit(price decimal.Decimal, percent int) decimal.Decimal {
	if percent <= 0 || percent >= 100 {
		return price
	}
	return price.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
}

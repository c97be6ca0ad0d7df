package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const DefaultServiceDurationMinutes = 60

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID              uuid.UUID       `bun:"id,pk,type:uuid"`
	CategoryID      *uuid.UUID      `bun:"category_id,type:uuid"`
	Name            string          `bun:"name,notnull"`
	Description     string          `bun:"description"`
	Price           decimal.Decimal `bun:"price,notnull,type:numeric(12,2)"`
	DurationMinutes int             `bun:"duration_minutes,notnull"`
	Popular         bool            `bun:"popular,notnull"`
	Active          bool            `bun:"active,notnull"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull"`
}

func (s *Service) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// Duration falls back to an hour for rows that never had one set.
func (s Service) Duration() int {
	if s.DurationMinutes <= 0 {
		return DefaultServiceDurationMinutes
	}
	return s.DurationMinutes
}

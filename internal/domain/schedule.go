package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const SettingBlockedWeekdays = "blocked_weekdays"

type BlockedDate struct {
	bun.BaseModel `bun:"table:blocked_dates"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Date      Date      `bun:"date,notnull,unique,type:date"`
	Reason    *string   `bun:"reason"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (b *BlockedDate) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

// AvailabilityWindow replaces the default slot template for its date with
// custom opening hours. Windows with IsAvailable=false are kept for the admin
// but ignored when computing slots.
type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	Date        Date      `bun:"date,notnull,type:date"`
	StartTime   ClockTime `bun:"start_time,notnull"`
	EndTime     ClockTime `bun:"end_time,notnull"`
	IsAvailable bool      `bun:"is_available,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

// Setting is a named configuration value. Callers go through typed accessors
// on the store rather than reading Value directly.
type Setting struct {
	bun.BaseModel `bun:"table:settings"`

	Key       string          `bun:"key,pk"`
	Value     json.RawMessage `bun:"value,type:jsonb"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// Package cache stores rendered calendar views in redis.
//
// Every key embeds a generation number kept under versionKey. Invalidate bumps
// the generation, which orphans all earlier views at once; they expire on
// their own TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/service/availability"
)

const (
	keyPrefix  = "salonbook:calendar:"
	versionKey = keyPrefix + "version"
)

type CalendarCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCalendarCache(client *redis.Client, ttl time.Duration) *CalendarCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CalendarCache{client: client, ttl: ttl}
}

var _ availability.CalendarCache = (*CalendarCache)(nil)

func (c *CalendarCache) generation(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func viewKey(generation int64, from, to domain.Date) string {
	return fmt.Sprintf("%sv%d:%s:%s", keyPrefix, generation, from, to)
}

func (c *CalendarCache) GetCalendar(ctx context.Context, from, to domain.Date) (availability.CalendarView, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return availability.CalendarView{}, 0, false, err
	}
	raw, err := c.client.Get(ctx, viewKey(gen, from, to)).Bytes()
	if errors.Is(err, redis.Nil) {
		return availability.CalendarView{}, gen, false, nil
	}
	if err != nil {
		return availability.CalendarView{}, gen, false, err
	}
	var view availability.CalendarView
	if err := json.Unmarshal(raw, &view); err != nil {
		return availability.CalendarView{}, gen, false, fmt.Errorf("decode cached calendar: %w", err)
	}
	return view, gen, true, nil
}

// PutCalendar stores view under the generation it was read at. If Invalidate
// ran in between, the key is already orphaned and nobody reads it.
func (c *CalendarCache) PutCalendar(ctx context.Context, generation int64, view availability.CalendarView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, viewKey(generation, view.From, view.To), raw, c.ttl).Err()
}

func (c *CalendarCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, versionKey).Err()
}

// NewClient builds a redis client and checks it answers.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

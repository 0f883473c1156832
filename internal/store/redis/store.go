package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/store"
)

// Store shares appointment snapshots between agenda processes through Redis.
// Each business lives under one JSON-encoded key.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(rdb goredis.UniversalClient, prefix string, ttl time.Duration) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "schedula"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

var _ store.AppointmentStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, businessID string) ([]domain.Appointment, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(businessID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get snapshot: %w", err)
	}

	var appts []domain.Appointment
	if err := json.Unmarshal(raw, &appts); err != nil {
		_ = s.rdb.Del(ctx, s.key(businessID)).Err()
		return nil, false, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	if appts == nil {
		appts = []domain.Appointment{}
	}
	return appts, true, nil
}

func (s *Store) Set(ctx context.Context, businessID string, appts []domain.Appointment) error {
	if appts == nil {
		appts = []domain.Appointment{}
	}
	raw, err := json.Marshal(appts)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(businessID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, businessID string) error {
	if err := s.rdb.Del(ctx, s.key(businessID)).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) key(businessID string) string {
	return s.prefix + ":appointments:" + businessID
}

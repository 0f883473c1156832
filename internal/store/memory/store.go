package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/store"
)

// Store keeps appointment snapshots in process memory. A zero ttl keeps a
// snapshot until it is invalidated or replaced.
type Store struct {
	c   *cache.Cache
	ttl time.Duration
}

func New(ttl time.Duration) *Store {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &Store{
		c:   cache.New(expiration, cleanup),
		ttl: expiration,
	}
}

var _ store.AppointmentStore = (*Store)(nil)

func (s *Store) Get(_ context.Context, businessID string) ([]domain.Appointment, bool, error) {
	v, found := s.c.Get(key(businessID))
	if !found {
		return nil, false, nil
	}
	appts, ok := v.([]domain.Appointment)
	if !ok {
		s.c.Delete(key(businessID))
		return nil, false, store.ErrCorrupt
	}
	return store.Clone(appts), true, nil
}

func (s *Store) Set(_ context.Context, businessID string, appts []domain.Appointment) error {
	snapshot := store.Clone(appts)
	if snapshot == nil {
		snapshot = []domain.Appointment{}
	}
	s.c.Set(key(businessID), snapshot, s.ttl)
	return nil
}

func (s *Store) Invalidate(_ context.Context, businessID string) error {
	s.c.Delete(key(businessID))
	return nil
}

func key(businessID string) string {
	return "appointments:" + businessID
}

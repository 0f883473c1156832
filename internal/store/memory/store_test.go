package memory

import (
	"context"
	"testing"
	"time"

	"schedula/agenda/internal/domain"
)

func TestStore_GetSetInvalidate(t *testing.T) {
	ctx := context.Background()
	s := New(0)

	if _, ok, err := s.Get(ctx, "b1"); ok || err != nil {
		t.Fatalf("Get on empty store = ok %v err %v, want empty", ok, err)
	}

	in := []domain.Appointment{{ID: "a1", Status: domain.StatusBooked}}
	if err := s.Set(ctx, "b1", in); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	in[0].Status = domain.StatusCanceled

	got, ok, err := s.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v err %v, want snapshot", ok, err)
	}
	if len(got) != 1 || got[0].Status != domain.StatusBooked {
		t.Fatalf("snapshot shares memory with caller: %+v", got)
	}

	if _, ok, _ := s.Get(ctx, "b2"); ok {
		t.Fatalf("businesses must be isolated")
	}

	if err := s.Invalidate(ctx, "b1"); err != nil {
		t.Fatalf("Invalidate error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "b1"); ok {
		t.Fatalf("Get after Invalidate returned a snapshot")
	}
}

func TestStore_EmptySnapshotIsPresent(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	if err := s.Set(ctx, "b1", nil); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, ok, err := s.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v err %v, want present empty snapshot", ok, err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestStore_TTLExpires(t *testing.T) {
	ctx := context.Background()
	s := New(20 * time.Millisecond)
	if err := s.Set(ctx, "b1", []domain.Appointment{{ID: "a1"}}); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "b1"); ok {
		t.Fatalf("snapshot should have expired")
	}
}

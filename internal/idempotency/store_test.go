package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/campus-orderflow/internal/backend"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore() (*Store, *backend.MemoryStore, *clock) {
	mem := backend.NewMemoryStore(Keys())
	clk := &clock{t: time.Date(2024, 9, 2, 11, 0, 0, 0, time.UTC)}
	s := NewStore(mem, 24*time.Hour)
	s.nowFunc = clk.now
	return s, mem, clk
}

func TestBegin_Get_MarkDone_MarkFailed(t *testing.T) {
	s, mem, _ := newTestStore()
	ctx := context.Background()
	key := "test-key-1"

	rec, created, err := s.Begin(ctx, key, "student-1")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !created || rec.Status != StatusInProgress {
		t.Fatalf("expected fresh IN_PROGRESS claim, got created=%v rec=%+v", created, rec)
	}

	// second claim should return created=false (exists)
	rec2, created2, err := s.Begin(ctx, key, "student-1")
	if err != nil {
		t.Fatalf("second Begin error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate claim")
	}
	if rec2.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec2.Status)
	}

	if err := s.MarkDone(ctx, key, "order-123", `{"ok":true}`, 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected record, got nil")
	}
	if got.Status != StatusDone || got.OrderID != "order-123" {
		t.Fatalf("status not updated to DONE, got %+v", got)
	}
	if got.ResponseBody != `{"ok":true}` || got.ResponseStatus != 201 {
		t.Fatalf("response not stored correctly: %+v", got)
	}

	// MarkFailed (should overwrite status)
	if err := s.MarkFailed(ctx, key, "failed-reason"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if got.Status != StatusFailed || got.Note != "failed-reason" {
		t.Fatalf("status not updated to FAILED, got %+v", got)
	}
	if mem.Len(Table) != 1 {
		t.Fatalf("expected one record, got %d", mem.Len(Table))
	}
}

func TestBegin_OtherActorConflicts(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k", "student-1"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if _, _, err := s.Begin(ctx, "k", "student-2"); !errors.Is(err, ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}
}

func TestBegin_ExpiredRecordIsReplaced(t *testing.T) {
	s, _, clk := newTestStore()
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k", "student-1"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.MarkDone(ctx, "k", "order-1", "{}", 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	clk.t = clk.t.Add(25 * time.Hour)
	if rec, _ := s.Get(ctx, "k"); rec != nil {
		t.Fatalf("expected expired record to be hidden, got %+v", rec)
	}

	rec, created, err := s.Begin(ctx, "k", "student-2")
	if err != nil {
		t.Fatalf("Begin after expiry error: %v", err)
	}
	if !created || rec.ActorID != "student-2" || rec.OrderID != "" {
		t.Fatalf("expected fresh claim, got created=%v rec=%+v", created, rec)
	}
}

func TestBegin_FailedRecordIsReclaimed(t *testing.T) {
	s, _, clk := newTestStore()
	ctx := context.Background()

	if _, _, err := s.Begin(ctx, "k", "a"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	clk.t = clk.t.Add(time.Second)
	if err := s.MarkFailed(ctx, "k", "items table unavailable"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, created, err := s.Begin(ctx, "k", "a")
	if err != nil || !created {
		t.Fatalf("expected new claim after failure, created=%v err=%v", created, err)
	}
	if rec.Status != StatusInProgress || rec.Note != "" {
		t.Fatalf("expected clean IN_PROGRESS record, got %+v", rec)
	}
}

func TestMarkDone_MissingKey(t *testing.T) {
	s, _, _ := newTestStore()
	if err := s.MarkDone(context.Background(), "nope", "o", "{}", 201); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestBegin_BackendError(t *testing.T) {
	s, mem, _ := newTestStore()
	boom := errors.New("throttled")
	mem.SetFault(backend.OpInsert, Table, boom)

	if _, _, err := s.Begin(context.Background(), "k", "a"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

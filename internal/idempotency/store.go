package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/campus-orderflow/internal/backend"
)

// Store encapsulates idempotency operations against the backend.
type Store struct {
	db        backend.Backend
	ttlWindow time.Duration // how long a key is honoured
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long a key is remembered (e.g., 24*time.Hour)
func NewStore(db backend.Backend, ttlWindow time.Duration) *Store {
	return &Store{
		db:        db,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Keys returns the key column of the idempotency table.
func Keys() map[string]string {
	return map[string]string{Table: "idempotency_key"}
}

// Schemas describes the idempotency table for fixed-schema drivers.
func Schemas() []backend.TableSchema {
	return []backend.TableSchema{{
		Name: Table,
		Key:  "idempotency_key",
		Columns: []backend.Column{
			{Name: "idempotency_key", Type: "TEXT"},
			{Name: "actor_id", Type: "TEXT NOT NULL"},
			{Name: "status", Type: "TEXT NOT NULL"},
			{Name: "order_id", Type: "TEXT"},
			{Name: "response_body", Type: "TEXT"},
			{Name: "response_status", Type: "INT"},
			{Name: "note", Type: "TEXT"},
			{Name: "created_at", Type: "BIGINT NOT NULL"},
			{Name: "updated_at", Type: "BIGINT NOT NULL"},
			{Name: "expires_at", Type: "BIGINT NOT NULL"},
		},
	}}
}

// Begin claims key for actorID with status IN_PROGRESS.
// Returns (rec, true, nil) when the claim is new, and (existing, false, nil) when the key
// was already claimed by the same actor so the caller can replay or wait.
// An expired or FAILED record is replaced by a fresh claim.
func (s *Store) Begin(ctx context.Context, key, actorID string) (*Record, bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		Key:       key,
		ActorID:   actorID,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttlWindow),
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.db.Insert(ctx, Table, recordToRow(rec))
		if err == nil {
			return &rec, true, nil
		}
		if !errors.Is(err, backend.ErrDuplicate) {
			return nil, false, fmt.Errorf("insert idempotency record: %w", err)
		}

		existing, err := s.get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			continue // removed between insert and read
		}
		if existing.ActorID != actorID && now.Before(existing.ExpiresAt) {
			return nil, false, ErrKeyConflict
		}
		if existing.Status == StatusFailed || !now.Before(existing.ExpiresAt) {
			// conditional on what we read, so two retries cannot both take the key
			if _, err := s.db.Delete(ctx, Table, map[string]any{
				"idempotency_key": key,
				"status":          existing.Status,
				"updated_at":      existing.UpdatedAt.UnixMicro(),
			}); err != nil {
				return nil, false, fmt.Errorf("delete stale idempotency record: %w", err)
			}
			continue
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("claim idempotency key %q: lost race twice", key)
}

// Get retrieves a live idempotency record by key. If not found or expired, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := s.get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if !s.nowFunc().Before(rec.ExpiresAt) {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) get(ctx context.Context, key string) (*Record, error) {
	rows, err := s.db.Select(ctx, Table, backend.Query{
		Filters: map[string]any{"idempotency_key": key},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := rowToRecord(rows[0])
	if err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the order id with a small response body & status.
func (s *Store) MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	return s.update(ctx, key, backend.Row{
		"status":          StatusDone,
		"order_id":        orderID,
		"response_body":   responseBody,
		"response_status": int64(responseStatus),
		"updated_at":      s.nowFunc().UnixMicro(),
	})
}

// MarkFailed marks the idempotency record as FAILED and stores a note.
// The next Begin with the same key starts over.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.update(ctx, key, backend.Row{
		"status":     StatusFailed,
		"note":       note,
		"updated_at": s.nowFunc().UnixMicro(),
	})
}

func (s *Store) update(ctx context.Context, key string, changes backend.Row) error {
	n, err := s.db.Update(ctx, Table, map[string]any{"idempotency_key": key}, changes)
	if err != nil {
		return fmt.Errorf("update idempotency record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update idempotency record %q: not found", key)
	}
	return nil
}

func recordToRow(r Record) backend.Row {
	return backend.Row{
		"idempotency_key": r.Key,
		"actor_id":        r.ActorID,
		"status":          r.Status,
		"order_id":        r.OrderID,
		"response_body":   r.ResponseBody,
		"response_status": int64(r.ResponseStatus),
		"note":            r.Note,
		"created_at":      r.CreatedAt.UnixMicro(),
		"updated_at":      r.UpdatedAt.UnixMicro(),
		"expires_at":      r.ExpiresAt.Unix(),
	}
}

func rowToRecord(row backend.Row) (Record, error) {
	rec := Record{
		Key:          row.String("idempotency_key"),
		ActorID:      row.String("actor_id"),
		Status:       row.String("status"),
		OrderID:      row.String("order_id"),
		ResponseBody: row.String("response_body"),
		Note:         row.String("note"),
	}
	status, err := row.Int64("response_status")
	if err != nil {
		return Record{}, err
	}
	rec.ResponseStatus = int(status)

	created, err := row.Int64("created_at")
	if err != nil {
		return Record{}, err
	}
	updated, err := row.Int64("updated_at")
	if err != nil {
		return Record{}, err
	}
	expires, err := row.Int64("expires_at")
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.UnixMicro(created).UTC()
	rec.UpdatedAt = time.UnixMicro(updated).UTC()
	rec.ExpiresAt = time.Unix(expires, 0).UTC()
	return rec, nil
}

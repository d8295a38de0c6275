package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hookrelay/internal/record"
	"hookrelay/internal/storage"
	logx "hookrelay/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	snapshot []byte
	saves    int
	failSave bool
}

func (m *memStore) SaveQueue(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave {
		return errors.New("disk full")
	}
	m.snapshot = append([]byte(nil), data...)
	return nil
}

func (m *memStore) LoadQueue(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *memStore) AppendAudit(context.Context, storage.AuditEntry) error { return nil }
func (m *memStore) Close() error                                          { return nil }

func rec(kind record.Kind, text string) record.Record {
	return record.Record{
		TraceID:    record.NewTraceID(),
		Kind:       kind,
		ReceivedAt: time.Now().UTC(),
		RawText:    text,
	}
}

func TestAppendDrainOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(ctx, nil, logx.Nop())

	for i := 0; i < 5; i++ {
		if err := q.Append(ctx, rec(record.KindRawMedia, fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("Len = %d, want 5", got)
	}

	drained := q.DrainAll(ctx)
	if len(drained) != 5 {
		t.Fatalf("drained %d records, want 5", len(drained))
	}
	for i, r := range drained {
		if want := fmt.Sprintf("msg-%d", i); r.RawText != want {
			t.Errorf("drained[%d].RawText = %q, want %q", i, r.RawText, want)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len after drain = %d, want 0", got)
	}
	if again := q.DrainAll(ctx); again != nil {
		t.Fatalf("second drain returned %d records, want none", len(again))
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := &memStore{}

	q := New(ctx, st, logx.Nop())
	_ = q.Append(ctx, rec(record.KindCommon, "survivor-a"))
	_ = q.Append(ctx, rec(record.KindCommon, "survivor-b"))

	// Simulate a restart: a fresh queue over the same store.
	q2 := New(ctx, st, logx.Nop())
	if got := q2.Len(); got != 2 {
		t.Fatalf("restored Len = %d, want 2", got)
	}
	drained := q2.DrainAll(ctx)
	if drained[0].RawText != "survivor-a" || drained[1].RawText != "survivor-b" {
		t.Fatalf("restored order wrong: %q, %q", drained[0].RawText, drained[1].RawText)
	}
}

func TestDrainPersistsEmptyState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := &memStore{}

	q := New(ctx, st, logx.Nop())
	_ = q.Append(ctx, rec(record.KindRawGame, "done"))
	q.DrainAll(ctx)

	var items []record.Record
	if err := json.Unmarshal(st.snapshot, &items); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("snapshot after drain holds %d records, want 0", len(items))
	}

	// Restart after a clean drain must not resurrect anything.
	q2 := New(ctx, st, logx.Nop())
	if got := q2.Len(); got != 0 {
		t.Fatalf("Len after clean restart = %d, want 0", got)
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := &memStore{failSave: true}

	q := New(ctx, st, logx.Nop())
	if err := q.Append(ctx, rec(record.KindRawMedia, "held")); err != nil {
		t.Fatalf("append with failing store: %v", err)
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1 despite persist failure", got)
	}
	drained := q.DrainAll(ctx)
	if len(drained) != 1 || drained[0].RawText != "held" {
		t.Fatalf("drain returned %v, want the held record", drained)
	}
}

func TestConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := New(ctx, &memStore{}, logx.Nop())

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Append(ctx, rec(record.KindCommon, fmt.Sprintf("c-%d", i)))
		}(i)
	}
	wg.Wait()

	if got := q.Len(); got != n {
		t.Fatalf("Len = %d, want %d", got, n)
	}
	seen := make(map[string]bool, n)
	for _, r := range q.DrainAll(ctx) {
		if seen[r.RawText] {
			t.Fatalf("duplicate record %q", r.RawText)
		}
		seen[r.RawText] = true
	}
	if len(seen) != n {
		t.Fatalf("drained %d unique records, want %d", len(seen), n)
	}
}

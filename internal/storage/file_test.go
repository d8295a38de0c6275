package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	logx "hookrelay/pkg/logx"
)

func TestFileQueueRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	// Nothing persisted yet.
	got, err := st.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue (empty): %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil snapshot, got %d bytes", len(got))
	}

	want := []byte(`[{"trace_id":"abc12345"}]`)
	if err := st.SaveQueue(ctx, want); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	got, err = st.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("snapshot mismatch: %s", got)
	}

	// Overwrite wins.
	if err := st.SaveQueue(ctx, []byte(`[]`)); err != nil {
		t.Fatalf("SaveQueue (overwrite): %v", err)
	}
	got, _ = st.LoadQueue(ctx)
	if string(got) != `[]` {
		t.Fatalf("snapshot not overwritten: %s", got)
	}
}

func TestFileAuditAppend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	entries := []AuditEntry{
		{TraceID: "aaaa1111", Category: "media", Action: "accepted", OK: true},
		{TraceID: "bbbb2222", Category: "game", Action: "rejected", Error: "bad token"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "store.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var lines []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}
	if lines[0].TraceID != "aaaa1111" || lines[1].Action != "rejected" {
		t.Fatalf("audit content mismatch: %+v", lines)
	}
	if lines[0].At.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", st, err)
	}
}

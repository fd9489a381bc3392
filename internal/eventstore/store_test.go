package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Record(ctx, Synthesis{RequestID: "r1", Status: StatusOK}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	rows, err := es.Recent(ctx, 10)
	if err != nil || rows != nil {
		t.Fatalf("expected no rows from ephemeral store, got %v %v", rows, err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var es *Store
	if err := es.Record(context.Background(), Synthesis{RequestID: "r1"}); err != nil {
		t.Fatalf("record on nil store: %v", err)
	}
	if err := es.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "ledger.db"), RetentionMode: "persistent"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(context.Background(), Synthesis{
		RequestID: "req-1", Source: "http", Voice: "en_US-ryan-medium",
		TextChars: 6, Segments: 3, PCMBytes: 55700, AudioMS: 1740, ElapsedMS: 12, Status: StatusOK,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	es.clock = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(context.Background(), Synthesis{RequestID: "req-2", Status: StatusFailed, Error: "boom"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := es.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].RequestID != "req-2" || rows[0].Error != "boom" {
		t.Fatalf("expected newest row first, got %+v", rows[0])
	}
	if rows[1].Segments != 3 || rows[1].PCMBytes != 55700 || rows[1].Source != "http" {
		t.Fatalf("unexpected row: %+v", rows[1])
	}
	if !rows[1].CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_at: %v", rows[1].CreatedAt)
	}
}

func TestPruneByDaysAndRows(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "ledger.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRows: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(context.Background(), Synthesis{RequestID: "old", Status: StatusOK}); err != nil {
		t.Fatalf("record: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"new-1", "new-2"} {
		if err := es.Record(context.Background(), Synthesis{RequestID: id, Status: StatusOK}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	rows, err := es.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].RequestID != "new-2" {
		t.Fatalf("expected only newest row to survive, got %+v", rows)
	}
}

func TestSessionModeStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	persistent := config.EventStoreConfig{Path: path, RetentionMode: "persistent"}
	es, err := Open(context.Background(), persistent, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := es.Record(context.Background(), Synthesis{RequestID: "before", Status: StatusOK}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = es.Close()

	es, err = Open(context.Background(), config.EventStoreConfig{Path: path, RetentionMode: "session"}, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	rows, err := es.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected session ledger reset, got %d rows", len(rows))
	}
}

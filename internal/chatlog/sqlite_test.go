package chatlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatlog.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 5, 2, 14, 30, 0, 0, time.UTC)

	entries := []protocol.ChatLogEntry{
		{SessionID: "s1", Username: "ana", ActionType: protocol.LogAction, ActionValue: "report_problem", BotResponse: "Got it.", CreatedAt: at},
		{SessionID: "s1", Username: "ana", ActionType: protocol.LogText, ActionValue: "no wifi", CreatedAt: at.Add(time.Second)},
		{SessionID: "s2", Username: "luis", ActionType: protocol.LogAction, ActionValue: "consult_policies", CreatedAt: at.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.List(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var values []string
	for _, e := range got {
		values = append(values, e.ActionValue)
	}
	if diff := cmp.Diff([]string{"no wifi", "report_problem"}, values); diff != "" {
		t.Errorf("entries newest first (-want +got):\n%s", diff)
	}
	if !got[1].CreatedAt.Equal(at) || got[1].BotResponse != "Got it." || got[1].ID == 0 {
		t.Errorf("unexpected entry %+v", got[1])
	}
}

func TestFilterAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Record(ctx, protocol.ChatLogEntry{SessionID: "s1", Username: "ana", ActionType: protocol.LogAction})
	}
	s.Record(ctx, protocol.ChatLogEntry{SessionID: "s2", Username: "luis", ActionType: protocol.LogAttachment, ActionValue: "a.png"})

	n, err := s.Count(ctx, Filter{Username: "ana"})
	if err != nil || n != 5 {
		t.Errorf("expected 5 for ana, got %d (%v)", n, err)
	}
	n, _ = s.Count(ctx, Filter{})
	if n != 6 {
		t.Errorf("expected 6 total, got %d", n)
	}
	n, _ = s.Count(ctx, Filter{ActionType: protocol.LogAttachment})
	if n != 1 {
		t.Errorf("expected 1 attachment entry, got %d", n)
	}

	got, _ := s.List(ctx, Filter{Username: "ana", Limit: 2})
	if len(got) != 2 {
		t.Errorf("expected limit 2, got %d", len(got))
	}
}

func TestRecord_DefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Record(context.Background(), protocol.ChatLogEntry{SessionID: "s1"})
	got, _ := s.List(context.Background(), Filter{})
	if len(got) != 1 || !got[0].CreatedAt.Equal(fixed) {
		t.Errorf("expected default timestamp, got %+v", got)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatlog.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Record(context.Background(), protocol.ChatLogEntry{SessionID: "s1"})
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(context.Background(), Filter{}); n != 1 {
		t.Errorf("expected entry to survive reopen, got %d", n)
	}
}

func TestNewSQLiteStore_CreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "logs", "chatlog.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestNewSQLiteStore_BadDataDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewSQLiteStore(filepath.Join(file, "chatlog.db"))
	if err == nil || !strings.Contains(err.Error(), "chatlog: data dir") {
		t.Errorf("expected data dir error, got %v", err)
	}
}

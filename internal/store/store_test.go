package store

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "driver.db")
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateCreatesAuditLogTable(t *testing.T) {
	s := newTestStore(t)
	var name string
	err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='audit_log'").Scan(&name)
	if err != nil {
		t.Fatalf("expected audit_log table to exist: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "driver.db")
	s1, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	s1.Close()

	s2, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open second (re-migrate): %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 applied migration, got %d", count)
	}
}

func TestOpenInMudlibResolvesRelativePathUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := OpenInMudlib(root, "driver.db")
	if err != nil {
		t.Fatalf("OpenInMudlib: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(root, "driver.db")); err != nil {
		t.Fatalf("expected db file under mudlib root: %v", err)
	}
}

func TestOpenInMudlibPassesThroughMemoryDSN(t *testing.T) {
	s, err := OpenInMudlib(t.TempDir(), ":memory:")
	if err != nil {
		t.Fatalf("OpenInMudlib: %v", err)
	}
	defer s.Close()
}

func TestAppendAndListLog(t *testing.T) {
	s := newTestStore(t)
	detail := "connected from 127.0.0.1"
	if err := s.AppendLog("alice", "login", &detail); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := s.AppendLog("alice", "logout", nil); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := s.AppendLog("bob", "login", nil); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	entries, err := s.ListLogBySubject("alice")
	if err != nil {
		t.Fatalf("ListLogBySubject: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(entries))
	}
	if entries[0].Event != "login" || entries[1].Event != "logout" {
		t.Fatalf("expected login then logout in timestamp order, got %v, %v", entries[0].Event, entries[1].Event)
	}
	if entries[0].Detail == nil || *entries[0].Detail != detail {
		t.Fatalf("expected detail preserved, got %v", entries[0].Detail)
	}

	recent, err := s.ListLogRecent(2)
	if err != nil {
		t.Fatalf("ListLogRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(recent))
	}
}

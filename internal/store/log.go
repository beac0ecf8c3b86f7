package store

import (
	"fmt"
	"time"
)

// LogEntry is one audit-log row: a timestamped event against a subject.
// Subject is deliberately loose — a player name, a blueprint path, or a
// connection id, whatever the caller is auditing.
type LogEntry struct {
	ID        int64
	Subject   string
	Timestamp time.Time
	Event     string
	Detail    *string
}

// AppendLog records one audit event against subject.
func (s *Store) AppendLog(subject, event string, detail *string) error {
	_, err := s.db.Exec("INSERT INTO audit_log (subject, event, detail) VALUES (?, ?, ?)", subject, event, detail)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogBySubject returns every audit event for subject, oldest first.
func (s *Store) ListLogBySubject(subject string) ([]*LogEntry, error) {
	rows, err := s.db.Query(`SELECT id, subject, timestamp, event, detail
		FROM audit_log WHERE subject = ? ORDER BY timestamp`, subject)
	if err != nil {
		return nil, fmt.Errorf("list log by subject: %w", err)
	}
	defer rows.Close()
	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.Subject, &e.Timestamp, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListLogRecent returns the most recent limit audit events across all
// subjects, newest first.
func (s *Store) ListLogRecent(limit int) ([]*LogEntry, error) {
	rows, err := s.db.Query(`SELECT id, subject, timestamp, event, detail
		FROM audit_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent log: %w", err)
	}
	defer rows.Close()
	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.Subject, &e.Timestamp, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Package ledger provides an append-only history of fixture connection events.
// It is an audit log only; nothing reads it back into light state.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventDiscovered    EventType = "discovered"
	EventConnecting    EventType = "connecting"
	EventConnected     EventType = "connected"
	EventConnectFailed EventType = "connect_failed"
	EventDisconnected  EventType = "disconnected"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventDiscovered, EventConnecting, EventConnected, EventConnectFailed, EventDisconnected:
		return true
	}
	return false
}

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Fixture   string         `json:"fixture"`
	Address   string         `json:"address,omitempty"`
	Family    string         `json:"family,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only connection event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. A zero Timestamp is set to now.
func (l *Ledger) Append(e Entry) error {
	var payloadJSON []byte
	var err error

	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	_, err = l.db.Exec(
		`INSERT INTO connection_ledger (event_type, timestamp, fixture, address, family, attempt_id, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.EventType), ts.UTC().UnixMilli(), e.Fixture, e.Address, e.Family, e.AttemptID, string(payloadJSON),
	)
	return err
}

// History returns the most recent entries for a fixture, newest first.
func (l *Ledger) History(fixture string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, fixture, address, family, attempt_id, payload
		FROM connection_ledger
		WHERE fixture = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, fixture, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// Attempt returns every entry of one connect attempt in order.
func (l *Ledger) Attempt(attemptID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, fixture, address, family, attempt_id, payload
		FROM connection_ledger
		WHERE attempt_id = ?
		ORDER BY id ASC
	`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, fixture, address, family, attempt_id, payload
		FROM connection_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM connection_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, address, family, attemptID sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.Fixture, &address, &family, &attemptID, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Address = address.String
		entry.Family = family.String
		entry.AttemptID = attemptID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/uart"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionKind distinguishes offline simulation runs from bridge sessions.
type SessionKind string

const (
	SessionSim    SessionKind = "sim"
	SessionBridge SessionKind = "bridge"
)

// Session is one row of the sessions table.
type Session struct {
	ID                string      `json:"session_id"`
	Kind              SessionKind `json:"kind"`
	Label             string      `json:"label"`
	OversampleDivisor int         `json:"oversample_divisor"`
	SampleWindow      int         `json:"sample_window"`
	Trigger           []byte      `json:"trigger"`
	Reply             []byte      `json:"reply"`
	StartedAt         time.Time   `json:"started_at"`
	EndedAt           *time.Time  `json:"ended_at,omitempty"`
	Cycles            uint64      `json:"cycles"`
	Stats             *uart.Stats `json:"stats,omitempty"`
	CRCRX             *uint16     `json:"crc_rx,omitempty"`
	CRCTX             *uint16     `json:"crc_tx,omitempty"`
}

// StartSession inserts a new open session for a core built from cfg.
func (db *DB) StartSession(kind SessionKind, label string, cfg uart.Config) (*Session, error) {
	s := &Session{
		ID:                uuid.New().String(),
		Kind:              kind,
		Label:             label,
		OversampleDivisor: cfg.Baud.OversampleDivisor(),
		SampleWindow:      cfg.SampleWindow,
		Trigger:           append([]byte(nil), cfg.Trigger...),
		Reply:             append([]byte(nil), cfg.Reply...),
		StartedAt:         db.clock.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO sessions (
			session_id, kind, label, oversample_div, sample_window,
			trigger_pattern, reply_pattern, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Kind), s.Label, s.OversampleDivisor, s.SampleWindow,
		s.Trigger, s.Reply, s.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// EndSession records the final counters and transcript digests.
func (db *DB) EndSession(id string, cycles uint64, stats uart.Stats, crcRX, crcTX uint16) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	res, err := db.Exec(`
		UPDATE sessions
		SET ended_at = ?, cycles = ?, stats_json = ?, crc_rx = ?, crc_tx = ?
		WHERE session_id = ?`,
		db.clock.Now().UTC(), int64(cycles), string(statsJSON), int64(crcRX), int64(crcTX), id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordEvents appends events to a session in one transaction.
func (db *DB) RecordEvents(sessionID string, events []uart.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events (session_id, cycle, kind, byte) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(sessionID, int64(ev.Cycle), string(ev.Kind), int(ev.Byte)); err != nil {
			return fmt.Errorf("insert event at cycle %d: %w", ev.Cycle, err)
		}
	}
	return tx.Commit()
}

// RecordExchange stores the outcome of a bench exchange.
func (db *DB) RecordExchange(sessionID string, ex bench.Exchange) error {
	_, err := db.Exec(`
		INSERT INTO exchanges (
			session_id, sent, reply, trigger_cycle, busy_cycle, done_cycle, framing_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, nonNil(ex.Sent), nonNil(ex.Reply),
		int64(ex.TriggerCycle), int64(ex.BusyCycle), int64(ex.DoneCycle), ex.FramingErrors,
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

const sessionColumns = `
	session_id, kind, label, oversample_div, sample_window, trigger_pattern,
	reply_pattern, started_at, ended_at, cycles, stats_json, crc_rx, crc_tx`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s         Session
		kind      string
		endedAt   sql.NullTime
		cycles    int64
		statsJSON sql.NullString
		crcRX     sql.NullInt64
		crcTX     sql.NullInt64
	)
	if err := row.Scan(
		&s.ID, &kind, &s.Label, &s.OversampleDivisor, &s.SampleWindow, &s.Trigger,
		&s.Reply, &s.StartedAt, &endedAt, &cycles, &statsJSON, &crcRX, &crcTX,
	); err != nil {
		return nil, err
	}
	s.Kind = SessionKind(kind)
	s.Cycles = uint64(cycles)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if statsJSON.Valid {
		var st uart.Stats
		if err := json.Unmarshal([]byte(statsJSON.String), &st); err != nil {
			return nil, fmt.Errorf("decode stats for %s: %w", s.ID, err)
		}
		s.Stats = &st
	}
	if crcRX.Valid {
		v := uint16(crcRX.Int64)
		s.CRCRX = &v
	}
	if crcTX.Valid {
		v := uint16(crcTX.Int64)
		s.CRCTX = &v
	}
	return &s, nil
}

// Session loads one session by ID.
func (db *DB) Session(id string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions lists the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Events returns a session's events in cycle order. An empty kind returns
// every kind.
func (db *DB) Events(sessionID string, kind uart.EventKind) ([]uart.Event, error) {
	query := `SELECT cycle, kind, byte FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY cycle, event_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uart.Event
	for rows.Next() {
		var (
			cycle int64
			k     string
			b     int
		)
		if err := rows.Scan(&cycle, &k, &b); err != nil {
			return nil, err
		}
		out = append(out, uart.Event{Cycle: uint64(cycle), Kind: uart.EventKind(k), Byte: byte(b)})
	}
	return out, rows.Err()
}

// EventCounts tallies a session's events by kind.
func (db *DB) EventCounts(sessionID string) (map[uart.EventKind]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uart.EventKind]int)
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts[uart.EventKind(k)] = n
	}
	return counts, rows.Err()
}

// Exchanges returns the exchanges recorded for a session in insertion order.
func (db *DB) Exchanges(sessionID string) ([]bench.Exchange, error) {
	rows, err := db.Query(`
		SELECT sent, reply, trigger_cycle, busy_cycle, done_cycle, framing_errors
		FROM exchanges WHERE session_id = ? ORDER BY exchange_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bench.Exchange
	for rows.Next() {
		var (
			ex                  bench.Exchange
			trigger, busy, done int64
		)
		if err := rows.Scan(&ex.Sent, &ex.Reply, &trigger, &busy, &done, &ex.FramingErrors); err != nil {
			return nil, err
		}
		ex.TriggerCycle, ex.BusyCycle, ex.DoneCycle = uint64(trigger), uint64(busy), uint64(done)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, through the foreign keys, its
// events and exchanges.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	logf("deleted session %s", id)
	return nil
}

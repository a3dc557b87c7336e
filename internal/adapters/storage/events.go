package storage

// events.go — monitor de eventos del autopilot.
//
// Log append-only sobre la misma base SQLite que el store de partidas. La
// retención se aplica al arrancar y después a diario; que falle el prune no es
// fatal para el resto del sistema.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// EventLog implementa ports.Monitor.
type EventLog struct {
	store *SQLiteStore
	hook  func(domain.Event) // opcional: fan-out a consumidores en vivo
}

// NewEventLog crea el monitor sobre un store ya abierto. hook puede ser nil;
// si no lo es, se invoca tras cada Record exitoso (feed websocket).
func NewEventLog(store *SQLiteStore, hook func(domain.Event)) *EventLog {
	return &EventLog{store: store, hook: hook}
}

// Record añade una entrada, asignando ID y timestamp si vienen vacíos.
func (l *EventLog) Record(ctx context.Context, ev domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var details []byte
	if len(ev.Details) > 0 {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("storage.Record: marshal details: %w", err)
		}
	}

	_, err := l.store.db.ExecContext(ctx, `
		INSERT INTO events (id, game_id, action, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.GameID, ev.Action, string(ev.Status), nullableString(details), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage.Record: insert: %w", err)
	}

	if l.hook != nil {
		l.hook(ev)
	}
	return nil
}

// Cleanup borra las entradas anteriores a olderThan.
func (l *EventLog) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.store.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage.Cleanup: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage.Cleanup: rows affected: %w", err)
	}
	return n, nil
}

// Recent devuelve las últimas `limit` entradas, más reciente primero.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := l.store.db.QueryContext(ctx, `
		SELECT id, game_id, action, status, details, created_at
		FROM events ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Recent: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			status  string
			details *string
		)
		if err := rows.Scan(&ev.ID, &ev.GameID, &ev.Action, &status, &details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("storage.Recent: scan: %w", err)
		}
		ev.Status = domain.EventStatus(status)
		if details != nil && *details != "" {
			if err := json.Unmarshal([]byte(*details), &ev.Details); err != nil {
				return nil, fmt.Errorf("storage.Recent: unmarshal details: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.Recent: rows: %w", err)
	}
	return events, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

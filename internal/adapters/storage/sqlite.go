package storage

// sqlite.go — store de documentos de partida sobre SQLite.
//
// Estrategia:
//   - `games`: una fila por partida. El estado vive en una columna JSON
//     (`state`); `status` e `is_active` se extraen a columnas propias para que
//     la query del scheduler ("todas las partidas activas") use un índice en
//     vez de abrir documentos.
//   - `update_seq`: token de concurrencia optimista. Toda escritura de
//     liquidación/inicio de ronda es un compare-and-swap sobre la secuencia
//     leída al principio del tick. Dos ticks solapados no pueden confirmar la
//     misma ronda dos veces: el segundo recibe ErrConflict y el siguiente tick
//     reevalúa desde el documento ya avanzado.
//   - El toggle del autopilot usa `json_set` (patch multi-path) en lugar de
//     reemplazar el documento: no puede pisar una liquidación concurrente.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
    id         TEXT PRIMARY KEY,
    status     TEXT     NOT NULL,
    is_active  INTEGER  NOT NULL DEFAULT 0,
    update_seq INTEGER  NOT NULL DEFAULT 0,
    state      TEXT     NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_games_active ON games(is_active);

CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    game_id    TEXT NOT NULL,
    action     TEXT NOT NULL,
    status     TEXT NOT NULL,
    details    TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_at   ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_game ON events(game_id);
`

// SQLiteStore implementa ports.GameStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en el DSN dado.
// Un solo writer: SQLite serializa las escrituras de todos modos y con una
// única conexión el DSN ":memory:" de los tests ve siempre la misma base.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close cierra la conexión.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateGame inserta una partida nueva con update_seq = 0.
func (s *SQLiteStore) CreateGame(ctx context.Context, g *domain.Game) error {
	if g.ID == "" {
		return errors.New("storage.CreateGame: empty game id")
	}
	if err := g.State.Validate(); err != nil {
		return fmt.Errorf("storage.CreateGame: validate %q: %w", g.ID, err)
	}

	doc, err := json.Marshal(&g.State)
	if err != nil {
		return fmt.Errorf("storage.CreateGame: marshal %q: %w", g.ID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO games (id, status, is_active, update_seq, state, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		g.ID, string(g.Status), boolToInt(g.State.IsActive), string(doc), now, now,
	)
	if err != nil {
		return fmt.Errorf("storage.CreateGame: insert %q: %w", g.ID, err)
	}
	g.UpdateSeq = 0
	return nil
}

// GetGame devuelve la partida o ports.ErrNotFound.
func (s *SQLiteStore) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, update_seq, state FROM games WHERE id = ?`, id)

	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage.GetGame: %q: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetGame: %q: %w", id, err)
	}
	return g, nil
}

// ListActiveGames devuelve todas las partidas con isActive == true.
func (s *SQLiteStore) ListActiveGames(ctx context.Context) ([]*domain.Game, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, update_seq, state FROM games WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListActiveGames: query: %w", err)
	}
	defer rows.Close()

	var games []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListActiveGames: scan: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListActiveGames: rows: %w", err)
	}
	return games, nil
}

// UpdateGame reemplaza el documento completo con CAS sobre expectedSeq.
func (s *SQLiteStore) UpdateGame(ctx context.Context, id string, expectedSeq int64, status domain.GameStatus, state *domain.GameState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("storage.UpdateGame: validate %q: %w", id, err)
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage.UpdateGame: marshal %q: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = ?, is_active = ?, state = ?, update_seq = update_seq + 1, updated_at = ?
		WHERE id = ? AND update_seq = ?`,
		string(status), boolToInt(state.IsActive), string(doc), time.Now().UTC(), id, expectedSeq,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateGame: update %q: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.UpdateGame: rows affected %q: %w", id, err)
	}
	if n == 0 {
		// Distinguir partida inexistente de secuencia obsoleta.
		var seq int64
		err := s.db.QueryRowContext(ctx, `SELECT update_seq FROM games WHERE id = ?`, id).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("storage.UpdateGame: %q: %w", id, ports.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("storage.UpdateGame: recheck %q: %w", id, err)
		}
		return fmt.Errorf("storage.UpdateGame: %q seq %d (expected %d): %w",
			id, seq, expectedSeq, ports.ErrConflict)
	}
	return nil
}

// SetAutopilot escribe {enabled, lastUpdateTime} como patch json_set.
// lastUpdateTime se pone a now al habilitar y a null al deshabilitar.
func (s *SQLiteStore) SetAutopilot(ctx context.Context, id string, enabled bool, at time.Time) error {
	enabledJSON := "false"
	tsJSON := "null"
	if enabled {
		enabledJSON = "true"
		tsJSON = strconv.FormatInt(domain.EpochMillis(at), 10)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET state = json_set(state, '$.autopilot.enabled', json(?), '$.autopilot.lastUpdateTime', json(?)),
		    update_seq = update_seq + 1,
		    updated_at = ?
		WHERE id = ?`,
		enabledJSON, tsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage.SetAutopilot: update %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.SetAutopilot: rows affected %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("storage.SetAutopilot: %q: %w", id, ports.ErrNotFound)
	}
	return nil
}

// scanGame deserializa una fila de `games`.
func scanGame(row interface{ Scan(...any) error }) (*domain.Game, error) {
	var (
		g      domain.Game
		status string
		doc    string
	)
	if err := row.Scan(&g.ID, &status, &g.UpdateSeq, &doc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(doc), &g.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	g.Status = domain.GameStatus(status)
	return &g, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

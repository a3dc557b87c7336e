package ports

import (
	"context"
	"errors"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

var (
	// ErrNotFound indica que la partida no existe en el store.
	ErrNotFound = errors.New("game not found")

	// ErrConflict indica que el update_seq esperado ya no coincide: otra
	// invocación escribió entre la lectura y la escritura. El caller no debe
	// reintentar a ciegas; el siguiente tick reevalúa desde el estado nuevo.
	ErrConflict = errors.New("game document changed concurrently")
)

// GameStore es el store mutable de documentos de partida.
// Todas las escrituras son atómicas: o se aplica el documento completo o nada.
type GameStore interface {
	// ListActiveGames devuelve todas las partidas con gameState.isActive == true.
	ListActiveGames(ctx context.Context) ([]*domain.Game, error)

	// GetGame devuelve la partida o ErrNotFound.
	GetGame(ctx context.Context, id string) (*domain.Game, error)

	// CreateGame inserta una partida nueva tras validar su documento.
	CreateGame(ctx context.Context, g *domain.Game) error

	// UpdateGame reemplaza el documento completo con compare-and-swap sobre
	// expectedSeq. Devuelve ErrConflict si la secuencia ya avanzó y
	// ErrNotFound si la partida no existe.
	UpdateGame(ctx context.Context, id string, expectedSeq int64, status domain.GameStatus, state *domain.GameState) error

	// SetAutopilot aplica un patch multi-path solo sobre los campos del
	// autopilot, sin tocar el resto del documento.
	SetAutopilot(ctx context.Context, id string, enabled bool, at time.Time) error

	// Close cierra la conexión al store limpiamente.
	Close() error
}

package engine

import (
	"context"
	"log/slog"

	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/ports"
)

// Engine liquida rondas e inicia las siguientes. No tiene estado propio: cada
// operación parte del documento leído por el caller y confirma sus mutaciones
// en una única escritura CAS; si la secuencia ya avanzó, no se aplica nada.
type Engine struct {
	store   ports.GameStore
	monitor ports.Monitor
}

// New crea un Engine con sus dependencias inyectadas.
func New(store ports.GameStore, monitor ports.Monitor) *Engine {
	return &Engine{store: store, monitor: monitor}
}

// record escribe en el monitor; un fallo del log nunca tumba la operación.
func (e *Engine) record(ctx context.Context, gameID, action string, status domain.EventStatus, details map[string]any) {
	ev := domain.Event{GameID: gameID, Action: action, Status: status, Details: details}
	if err := e.monitor.Record(ctx, ev); err != nil {
		slog.Warn("event monitor error", "game", gameID, "action", action, "err", err)
	}
}

package engine

// start.go — inicio de ronda.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// StartRound inicia una ronda nueva: estampa la hora de inicio, marca la
// partida activa y deja a TODOS los jugadores sin bid ni flag de envío.
// A diferencia de la liquidación, aquí también se resetean los timed-out: un
// inicio de ronda siempre limpia el estado; solo la liquidación preserva sus
// últimos valores.
//
// Con menos de 2 jugadores activos no hace nada y devuelve started=false: es
// un no-op registrado, no un error.
func (e *Engine) StartRound(ctx context.Context, g *domain.Game) (bool, error) {
	st := &g.State

	if st.ActivePlayerCount() < 2 {
		slog.Info("round start skipped, not enough active players",
			"game", g.ID,
			"round", st.CurrentRound,
			"active", st.ActivePlayerCount(),
		)
		return false, nil
	}

	now := domain.EpochMillis(time.Now())
	st.RoundStartTime = &now
	st.IsActive = true
	for _, p := range st.Players {
		p.HasSubmittedBid = false
		p.CurrentBid = nil
	}

	if len(st.Rivalries) == 0 {
		st.Rivalries = allPlayAll(st)
	}

	if err := e.store.UpdateGame(ctx, g.ID, g.UpdateSeq, g.Status, st); err != nil {
		e.record(ctx, g.ID, domain.ActionStartRound, domain.EventFailure, map[string]any{
			"round":   st.CurrentRound,
			"players": len(st.Players),
			"error":   err.Error(),
		})
		return false, fmt.Errorf("engine.StartRound: game %q round %d: %w", g.ID, st.CurrentRound, err)
	}

	e.record(ctx, g.ID, domain.ActionStartRound, domain.EventSuccess, map[string]any{
		"round":   st.CurrentRound,
		"players": len(st.Players),
	})
	slog.Info("round started", "game", g.ID, "round", st.CurrentRound, "players", len(st.Players))
	return true, nil
}

// allPlayAll deriva el grafo de rivalidades por defecto: todos contra todos.
// Es metadato informativo; la liquidación siempre considera a todos los
// jugadores independientemente de las rivalidades asignadas.
func allPlayAll(st *domain.GameState) map[string][]string {
	ids := make([]string, 0, len(st.Players))
	for id := range st.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rivalries := make(map[string][]string, len(ids))
	for _, id := range ids {
		rivals := make([]string, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				rivals = append(rivals, other)
			}
		}
		rivalries[id] = rivals
	}
	return rivalries
}

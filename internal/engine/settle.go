package engine

// settle.go — liquidación de rondas.
//
// Resolver una ronda significa: rellenar los bids que faltan con maxBid (la
// penalización por no pujar es el peor precio posible), calcular cuotas y
// beneficios con el modelo logit, anotar el RoundResult en el histórico y
// avanzar el contador de ronda o cerrar la partida. Todas las mutaciones de
// una liquidación viajan en UNA escritura CAS: aplicar la mitad (resultado
// guardado pero contador sin avanzar) sería una violación de correctitud.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// SettleRound resuelve la ronda activa de g y confirma el resultado.
//
// Jugadores activos sin bid válido reciben maxBid y se les resetea el estado
// de puja para la siguiente ronda. Los jugadores con timeout también se
// liquidan (con su último bid si lo hay, maxBid si no) pero sus flags se
// preservan: siguen fuera del check de "todos han pujado" sin dejar de
// recibir resultado.
//
// En la última ronda la partida se cierra (isEnded, status completed) y los
// agregados se recalculan con un único fold sobre el histórico completo.
func (e *Engine) SettleRound(ctx context.Context, g *domain.Game) (*domain.RoundResult, error) {
	result, penalties, err := e.settle(g, time.Now())
	if err != nil {
		e.record(ctx, g.ID, domain.ActionProcessRound, domain.EventFailure, map[string]any{
			"round":   g.State.CurrentRound,
			"players": len(g.State.Players),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("engine.SettleRound: game %q round %d: %w", g.ID, g.State.CurrentRound, err)
	}

	status := g.Status
	if g.State.IsEnded {
		status = domain.StatusCompleted
	}
	if err := e.store.UpdateGame(ctx, g.ID, g.UpdateSeq, status, &g.State); err != nil {
		e.record(ctx, g.ID, domain.ActionProcessRound, domain.EventFailure, map[string]any{
			"round":   result.Round,
			"players": len(g.State.Players),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("engine.SettleRound: game %q round %d: %w", g.ID, result.Round, err)
	}
	g.Status = status

	e.record(ctx, g.ID, domain.ActionProcessRound, domain.EventSuccess, map[string]any{
		"round":     result.Round,
		"players":   len(g.State.Players),
		"bids":      len(result.Bids),
		"penalties": penalties,
		"ended":     g.State.IsEnded,
	})
	slog.Info("round settled",
		"game", g.ID,
		"round", result.Round,
		"players", len(g.State.Players),
		"penalties", penalties,
		"ended", g.State.IsEnded,
	)
	return result, nil
}

// settle aplica la liquidación sobre el estado en memoria y devuelve el
// resultado más el número de bids penalizados. No escribe nada: el commit es
// del caller.
func (e *Engine) settle(g *domain.Game, now time.Time) (*domain.RoundResult, int, error) {
	st := &g.State

	if len(st.Players) == 0 {
		return nil, 0, fmt.Errorf("no players: %w", domain.ErrInvalidState)
	}
	if st.MaxBid <= 0 {
		return nil, 0, fmt.Errorf("maxBid not defined: %w", domain.ErrInvalidState)
	}
	if st.IsEnded {
		return nil, 0, fmt.Errorf("game already ended: %w", domain.ErrInvalidState)
	}
	if st.RoundResultAt(st.CurrentRound) != nil {
		return nil, 0, fmt.Errorf("round %d already settled: %w", st.CurrentRound, domain.ErrInvalidState)
	}

	bids, penalties := resolveBids(st)

	alpha := st.Alpha
	if alpha <= 0 {
		alpha = domain.DefaultAlpha
	}
	shares := domain.MarketShares(bids, alpha)

	profits := make(map[string]float64, len(bids))
	for id, bid := range bids {
		profits[id] = domain.Profit(bid, shares[id], st.CostPerUnit, st.MarketSize)
	}

	result := &domain.RoundResult{
		Round:        st.CurrentRound,
		Bids:         bids,
		MarketShares: shares,
		Profits:      profits,
		Timestamp:    domain.EpochMillis(now),
	}
	st.SetRoundResult(result)

	// La ronda queda cerrada: sin hora de inicio y con los jugadores activos
	// listos para pujar de nuevo. Los campos de los timed-out no se tocan.
	st.RoundStartTime = nil
	for _, p := range st.Players {
		if p.IsTimedOut {
			continue
		}
		p.HasSubmittedBid = false
		p.CurrentBid = nil
	}

	if st.CurrentRound >= st.TotalRounds {
		st.IsActive = false
		st.IsEnded = true
		finalizeStats(st)
	} else {
		st.CurrentRound++
	}
	return result, penalties, nil
}

// resolveBids construye el mapa de bids efectivos de la ronda y cuenta los
// penalizados. Activo sin bid válido → maxBid (penalización). Timed-out
// conserva su último bid numérico o recibe maxBid.
func resolveBids(st *domain.GameState) (map[string]float64, int) {
	bids := make(map[string]float64, len(st.Players))
	penalties := 0
	for id, p := range st.Players {
		switch {
		case p.IsTimedOut:
			if validBid(p.CurrentBid) {
				bids[id] = *p.CurrentBid
			} else {
				bids[id] = st.MaxBid
				penalties++
			}
		case p.HasSubmittedBid && validBid(p.CurrentBid):
			bids[id] = *p.CurrentBid
		default:
			bids[id] = st.MaxBid
			penalties++
		}
	}
	return bids, penalties
}

// validBid acepta cualquier número real almacenado. No se aplica clamping a
// [minBid, maxBid]: un bid fuera de rango pre-existente se liquida tal cual.
func validBid(b *float64) bool {
	return b != nil && !math.IsNaN(*b) && !math.IsInf(*b, 0)
}

// finalizeStats recalcula los agregados de fin de partida con un fold sobre
// todo el histórico. Se ejecuta exactamente una vez, en la transición a
// isEnded; mantener sumas incrementales en otros sitios invita a divergencias.
func finalizeStats(st *domain.GameState) {
	var (
		totalProfit float64
		totalShares float64
		bestRound   int
		bestProfit  float64
		first       = true
	)

	for _, r := range st.RoundHistory {
		if r == nil {
			continue
		}
		roundBest := math.Inf(-1)
		for _, p := range r.Profits {
			totalProfit += p
			if p > roundBest {
				roundBest = p
			}
		}
		for _, s := range r.MarketShares {
			totalShares += s
		}
		// Empate → gana la primera aparición.
		if first || roundBest > bestProfit {
			bestRound = r.Round
			bestProfit = roundBest
			first = false
		}
	}

	st.TotalProfit = totalProfit
	st.BestRound = bestRound
	st.BestRoundProfit = bestProfit

	denom := float64(st.TotalRounds) * float64(len(st.Players))
	if denom > 0 {
		st.AverageMarketShare = totalShares / denom
	}
}

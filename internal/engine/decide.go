package engine

import (
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// ShouldProcessRound decide si la ronda activa está vencida: ha pasado el
// tiempo límite o todos los jugadores activos ya han pujado. Es una función
// pura de (estado, ahora): llamada dos veces sin cambio de estado devuelve lo
// mismo.
//
// Requiere quórum: con menos de 2 jugadores activos una ronda nunca vence, de
// modo que una partida estancada no se auto-liquida.
func ShouldProcessRound(st *domain.GameState, now time.Time) bool {
	if st.ActivePlayerCount() < 2 {
		return false
	}
	if st.RoundStartTime == nil {
		return false
	}
	limit := time.Duration(st.RoundTimeLimit) * time.Second
	if st.RoundElapsed(now) >= limit {
		return true
	}
	return st.AllPlayersSubmitted()
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState indica que un documento de partida está malformado para la
// operación solicitada (sin jugadores, sin maxBid, ronda ya liquidada, etc.).
// Es fatal para esa invocación: el siguiente tick reevalúa desde el estado
// persistido.
var ErrInvalidState = errors.New("invalid game state")

// DefaultAlpha es la sensibilidad al precio del modelo logit cuando la partida
// no define una propia.
const DefaultAlpha = 0.5

// GameStatus es el estado de ciclo de vida de una partida.
type GameStatus string

const (
	StatusPending   GameStatus = "pending"
	StatusActive    GameStatus = "active"
	StatusCompleted GameStatus = "completed"
	StatusArchived  GameStatus = "archived"
)

// Game es la fila completa del store: documento de estado más los metadatos
// que el store mantiene fuera del JSON. UpdateSeq es el token de concurrencia
// optimista: cada escritura lo compara y lo incrementa, de modo que dos ticks
// solapados nunca pueden confirmar la misma ronda dos veces.
type Game struct {
	ID        string
	Status    GameStatus
	UpdateSeq int64
	State     GameState
}

// GameState es el documento mutable autoritativo de una sesión.
type GameState struct {
	HasGameStarted bool `json:"hasGameStarted"`
	IsActive       bool `json:"isActive"`
	IsEnded        bool `json:"isEnded"`

	CurrentRound   int    `json:"currentRound"` // 1-based
	TotalRounds    int    `json:"totalRounds"`
	RoundTimeLimit int    `json:"roundTimeLimit"` // segundos
	RoundStartTime *int64 `json:"roundStartTime"` // epoch ms; nil = ronda no iniciada

	MinBid      float64 `json:"minBid"`
	MaxBid      float64 `json:"maxBid"`
	CostPerUnit float64 `json:"costPerUnit"`
	MarketSize  float64 `json:"marketSize"`
	Alpha       float64 `json:"alpha"`

	Players      map[string]*Player  `json:"players"`
	RoundHistory []*RoundResult      `json:"roundHistory"`
	Rivalries    map[string][]string `json:"rivalries,omitempty"`
	Autopilot    AutopilotState      `json:"autopilot"`

	// Agregados derivados, recalculados una sola vez al terminar la partida.
	TotalProfit        float64 `json:"totalProfit"`
	AverageMarketShare float64 `json:"averageMarketShare"`
	BestRound          int     `json:"bestRound"`
	BestRoundProfit    float64 `json:"bestRoundProfit"`
}

// Player es un participante de la sesión. CurrentBid usa puntero en vez de
// sobrecargar el dominio numérico: nil significa "sin bid".
type Player struct {
	Name            string   `json:"name"`
	CurrentBid      *float64 `json:"currentBid"`
	HasSubmittedBid bool     `json:"hasSubmittedBid"`
	LastBidTime     *int64   `json:"lastBidTime"`
	IsTimedOut      bool     `json:"isTimedOut"`
}

// AutopilotState es el flag por partida que habilita el avance automático.
type AutopilotState struct {
	Enabled        bool   `json:"enabled"`
	LastUpdateTime *int64 `json:"lastUpdateTime"`
}

// RoundResult es el registro inmutable de una ronda liquidada.
type RoundResult struct {
	Round        int                `json:"round"`
	Bids         map[string]float64 `json:"bids"`
	MarketShares map[string]float64 `json:"marketShares"`
	Profits      map[string]float64 `json:"profits"`
	Timestamp    int64              `json:"timestamp"` // epoch ms
}

// EpochMillis convierte un time.Time al formato de timestamp del documento.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// ActivePlayerCount cuenta los jugadores no expulsados por timeout.
// Son los únicos que cuentan para el quórum de 2 y para "todos han pujado".
func (s *GameState) ActivePlayerCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.IsTimedOut {
			n++
		}
	}
	return n
}

// AllPlayersSubmitted devuelve true si todos los jugadores activos han enviado
// su bid. Con menos de 2 activos devuelve siempre false: una partida sin
// quórum nunca se auto-liquida.
func (s *GameState) AllPlayersSubmitted() bool {
	if s.ActivePlayerCount() < 2 {
		return false
	}
	for _, p := range s.Players {
		if p.IsTimedOut {
			continue
		}
		if !p.HasSubmittedBid {
			return false
		}
	}
	return true
}

// RoundElapsed devuelve el tiempo transcurrido desde el inicio de la ronda
// activa, o 0 si no hay ronda en curso.
func (s *GameState) RoundElapsed(now time.Time) time.Duration {
	if s.RoundStartTime == nil {
		return 0
	}
	ms := EpochMillis(now) - *s.RoundStartTime
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// RoundResultAt devuelve el resultado de la ronda dada (1-based) o nil.
// El histórico puede ser sparse: índices intermedios pueden faltar.
func (s *GameState) RoundResultAt(round int) *RoundResult {
	idx := round - 1
	if idx < 0 || idx >= len(s.RoundHistory) {
		return nil
	}
	return s.RoundHistory[idx]
}

// SetRoundResult escribe el resultado en roundHistory[round-1], extendiendo el
// histórico con huecos nil si hace falta.
func (s *GameState) SetRoundResult(r *RoundResult) {
	idx := r.Round - 1
	for len(s.RoundHistory) <= idx {
		s.RoundHistory = append(s.RoundHistory, nil)
	}
	s.RoundHistory[idx] = r
}

// Validate aplica la validación de frontera del store: el documento tiene que
// ser coherente antes de persistirse. No valida reglas de negocio de la
// liquidación (eso lo hace el engine con ErrInvalidState).
func (s *GameState) Validate() error {
	if s.TotalRounds < 1 {
		return fmt.Errorf("totalRounds must be >= 1, got %d", s.TotalRounds)
	}
	if s.CurrentRound < 1 {
		return fmt.Errorf("currentRound must be >= 1, got %d", s.CurrentRound)
	}
	if s.RoundTimeLimit <= 0 {
		return fmt.Errorf("roundTimeLimit must be > 0, got %d", s.RoundTimeLimit)
	}
	if s.MaxBid <= s.MinBid {
		return fmt.Errorf("maxBid (%v) must be greater than minBid (%v)", s.MaxBid, s.MinBid)
	}
	if s.IsActive && s.IsEnded {
		return errors.New("isActive and isEnded are mutually exclusive")
	}
	for id, p := range s.Players {
		if id == "" {
			return errors.New("player id must not be empty")
		}
		if p == nil {
			return fmt.Errorf("player %q is nil", id)
		}
		if p.Name == "" {
			return fmt.Errorf("player %q has empty name", id)
		}
	}
	return nil
}

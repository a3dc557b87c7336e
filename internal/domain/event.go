package domain

import "time"

// Acciones que el monitor de eventos registra.
const (
	ActionStartRound      = "start_round"
	ActionProcessRound    = "process_round"
	ActionToggleAutopilot = "toggle_autopilot"
)

// EventStatus es el resultado de una acción del autopilot.
type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventFailure EventStatus = "failure"
)

// Event es una entrada append-only del monitor de eventos.
type Event struct {
	ID        string         `json:"id"`
	GameID    string         `json:"gameId"`
	Action    string         `json:"action"`
	Status    EventStatus    `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Acción decidida por el scheduler para una partida en un tick.
const (
	TickStarted = "started" // ronda nueva iniciada
	TickSettled = "settled" // ronda liquidada (y encadenada la siguiente si procede)
	TickIdle    = "idle"    // ronda en curso, aún no vencida
	TickSkipped = "skipped" // sin quórum de jugadores activos
	TickError   = "error"
)

// TickOutcome resume qué hizo el scheduler con una partida en un tick.
// Es lo que consume el notificador de consola.
type TickOutcome struct {
	GameID   string
	Action   string
	Round    int
	Ended    bool
	Err      error
	Duration time.Duration
}

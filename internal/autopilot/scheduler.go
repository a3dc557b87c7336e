package autopilot

// scheduler.go — driver periódico del autopilot.
//
// Cada tick lista las partidas activas, filtra las que tienen autopilot
// habilitado y procesa cada una en su propia goroutine: iniciar ronda,
// liquidarla, o nada, según el tiempo transcurrido y las pujas recibidas.
// Las partidas son independientes: un fallo (o un pánico) en una no aborta
// el procesamiento de las demás.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/engine"
	"github.com/henrytanbeaver/reapbid/internal/ports"
)

// Config contiene la configuración del scheduler.
type Config struct {
	TickInterval time.Duration
	Once         bool
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{TickInterval: time.Minute}
}

// Scheduler es el orquestador del loop de ticks.
type Scheduler struct {
	cfg      Config
	store    ports.GameStore
	engine   *engine.Engine
	notifier ports.Notifier
	now      func() time.Time
}

// New crea un Scheduler con todas las dependencias inyectadas.
func New(cfg Config, store ports.GameStore, eng *engine.Engine, notifier ports.Notifier) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		engine:   eng,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run ejecuta el loop de ticks hasta que el contexto se cancele.
// Si cfg.Once está activo, ejecuta un único tick y termina.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("autopilot starting", "interval", s.cfg.TickInterval, "once", s.cfg.Once)

	if err := s.runTick(ctx); err != nil {
		slog.Error("autopilot tick failed", "err", err)
		if s.cfg.Once {
			return err
		}
	}

	if s.cfg.Once {
		return nil
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("autopilot stopped")
			return nil
		case <-ticker.C:
			if err := s.runTick(ctx); err != nil {
				slog.Error("autopilot tick failed", "err", err)
			}
		}
	}
}

// RunTick ejecuta exactamente un tick y devuelve los outcomes por partida.
func (s *Scheduler) RunTick(ctx context.Context) ([]domain.TickOutcome, error) {
	return s.tick(ctx)
}

// runTick ejecuta un tick completo y notifica el resumen.
func (s *Scheduler) runTick(ctx context.Context) error {
	start := s.now()

	outcomes, err := s.tick(ctx)
	if err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, outcomes); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	slog.Info("autopilot tick complete",
		"games", len(outcomes),
		"settled", countAction(outcomes, domain.TickSettled),
		"started", countAction(outcomes, domain.TickStarted),
		"errors", countAction(outcomes, domain.TickError),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// tick hace list → filter → fan-out y recoge un outcome por partida.
func (s *Scheduler) tick(ctx context.Context) ([]domain.TickOutcome, error) {
	games, err := s.store.ListActiveGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("autopilot.tick: list active games: %w", err)
	}

	eligible := games[:0:0]
	for _, g := range games {
		if g.State.Autopilot.Enabled && g.State.HasGameStarted && !g.State.IsEnded {
			eligible = append(eligible, g)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	outcomes := make([]domain.TickOutcome, len(eligible))
	var wg sync.WaitGroup
	for i, g := range eligible {
		wg.Add(1)
		go func(i int, g *domain.Game) {
			defer wg.Done()
			outcomes[i] = s.processGame(ctx, g)
		}(i, g)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.Err != nil {
			slog.Warn("game processing failed", "game", out.GameID, "round", out.Round, "err", out.Err)
		}
	}
	return outcomes, nil
}

// processGame decide y ejecuta la acción para una partida. Nunca propaga: el
// error (o pánico) queda aislado en el outcome.
func (s *Scheduler) processGame(ctx context.Context, g *domain.Game) (out domain.TickOutcome) {
	start := s.now()
	out.GameID = g.ID
	out.Round = g.State.CurrentRound

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Action = domain.TickError
			out.Err = fmt.Errorf("autopilot.processGame: game %q panicked: %v", g.ID, r)
		}
	}()

	if g.State.RoundStartTime == nil {
		started, err := s.engine.StartRound(ctx, g)
		switch {
		case err != nil:
			out.Action = domain.TickError
			out.Err = err
		case started:
			out.Action = domain.TickStarted
		default:
			out.Action = domain.TickSkipped
		}
		return out
	}

	if !engine.ShouldProcessRound(&g.State, s.now()) {
		out.Action = domain.TickIdle
		return out
	}

	result, err := s.engine.SettleRound(ctx, g)
	if err != nil {
		out.Action = domain.TickError
		out.Err = err
		// Un conflicto CAS significa que otra invocación ya avanzó la
		// partida: el siguiente tick reevalúa, no hay nada que reparar.
		if errors.Is(err, ports.ErrConflict) {
			slog.Info("settlement lost the race, reassessing next tick", "game", g.ID)
		}
		return out
	}
	out.Action = domain.TickSettled
	out.Round = result.Round
	out.Ended = g.State.IsEnded

	// Encadenar la siguiente ronda en el mismo tick: releer el documento ya
	// confirmado y arrancar si la partida sigue viva.
	if !g.State.IsEnded {
		fresh, err := s.store.GetGame(ctx, g.ID)
		if err != nil {
			out.Err = fmt.Errorf("autopilot.processGame: reread %q: %w", g.ID, err)
			return out
		}
		if !fresh.State.IsEnded && fresh.State.RoundStartTime == nil {
			if _, err := s.engine.StartRound(ctx, fresh); err != nil {
				out.Err = err
			}
		}
	}
	return out
}

func countAction(outcomes []domain.TickOutcome, action string) int {
	n := 0
	for _, out := range outcomes {
		if out.Action == action {
			n++
		}
	}
	return n
}

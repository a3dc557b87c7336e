package autopilot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrytanbeaver/reapbid/internal/autopilot"
	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/engine"
	"github.com/henrytanbeaver/reapbid/internal/ports"
)

// --- mocks ---

type mockStore struct {
	games map[string]*domain.Game
}

func newMockStore(games ...*domain.Game) *mockStore {
	m := &mockStore{games: map[string]*domain.Game{}}
	for _, g := range games {
		m.games[g.ID] = g
	}
	return m
}

func (m *mockStore) ListActiveGames(_ context.Context) ([]*domain.Game, error) {
	var out []*domain.Game
	for _, g := range m.games {
		if g.State.IsActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockStore) GetGame(_ context.Context, id string) (*domain.Game, error) {
	g, ok := m.games[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return g, nil
}

func (m *mockStore) CreateGame(_ context.Context, g *domain.Game) error {
	m.games[g.ID] = g
	return nil
}

func (m *mockStore) UpdateGame(_ context.Context, id string, expectedSeq int64, status domain.GameStatus, state *domain.GameState) error {
	g, ok := m.games[id]
	if !ok {
		return ports.ErrNotFound
	}
	if g.UpdateSeq != expectedSeq {
		return ports.ErrConflict
	}
	g.Status = status
	g.State = *state
	g.UpdateSeq++
	return nil
}

func (m *mockStore) SetAutopilot(_ context.Context, id string, enabled bool, at time.Time) error {
	g, ok := m.games[id]
	if !ok {
		return ports.ErrNotFound
	}
	g.State.Autopilot.Enabled = enabled
	return nil
}

func (m *mockStore) Close() error { return nil }

type mockMonitor struct {
	events []domain.Event
}

func (m *mockMonitor) Record(_ context.Context, ev domain.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockMonitor) Cleanup(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

// --- helpers ---

func fptr(v float64) *float64 { return &v }

func autopilotGame(id string, startedAgo *time.Duration) *domain.Game {
	g := &domain.Game{
		ID:     id,
		Status: domain.StatusActive,
		State: domain.GameState{
			HasGameStarted: true,
			IsActive:       true,
			CurrentRound:   1,
			TotalRounds:    3,
			RoundTimeLimit: 60,
			MinBid:         10,
			MaxBid:         100,
			CostPerUnit:    30,
			MarketSize:     1000,
			Alpha:          0.5,
			Autopilot:      domain.AutopilotState{Enabled: true},
			Players: map[string]*domain.Player{
				"a": {Name: "Ana", CurrentBid: fptr(50), HasSubmittedBid: true},
				"b": {Name: "Bruno", CurrentBid: fptr(60), HasSubmittedBid: true},
			},
		},
	}
	if startedAgo != nil {
		start := domain.EpochMillis(time.Now().Add(-*startedAgo))
		g.State.RoundStartTime = &start
	}
	return g
}

func dur(d time.Duration) *time.Duration { return &d }

func newScheduler(store ports.GameStore, monitor ports.Monitor) *autopilot.Scheduler {
	eng := engine.New(store, monitor)
	return autopilot.New(autopilot.Config{TickInterval: time.Minute, Once: true}, store, eng, nil)
}

func outcomeFor(t *testing.T, outcomes []domain.TickOutcome, gameID string) domain.TickOutcome {
	t.Helper()
	for _, out := range outcomes {
		if out.GameID == gameID {
			return out
		}
	}
	t.Fatalf("no outcome for game %q", gameID)
	return domain.TickOutcome{}
}

// --- ticks ---

func TestRunTick_StartsUnstartedRound(t *testing.T) {
	g := autopilotGame("g1", nil)
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, domain.TickStarted, outcomes[0].Action)
	assert.NotNil(t, store.games["g1"].State.RoundStartTime)
}

func TestRunTick_SettlesDueRoundAndChainsNext(t *testing.T) {
	g := autopilotGame("g1", dur(2*time.Minute)) // límite de 60s superado
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TickSettled, outcomes[0].Action)
	assert.Equal(t, 1, outcomes[0].Round)

	st := &store.games["g1"].State
	require.NotNil(t, st.RoundResultAt(1))
	assert.Equal(t, 2, st.CurrentRound)
	// La siguiente ronda arranca en el mismo tick, sin esperar al próximo.
	assert.NotNil(t, st.RoundStartTime)
}

func TestRunTick_SettlesWhenAllSubmittedEarly(t *testing.T) {
	g := autopilotGame("g1", dur(5*time.Second)) // lejos del límite, pero todos han pujado
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TickSettled, outcomes[0].Action)
}

func TestRunTick_FinalRoundEndsWithoutChaining(t *testing.T) {
	g := autopilotGame("g1", dur(2*time.Minute))
	g.State.TotalRounds = 1
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TickSettled, outcomes[0].Action)
	assert.True(t, outcomes[0].Ended)

	st := &store.games["g1"].State
	assert.True(t, st.IsEnded)
	assert.False(t, st.IsActive)
	assert.Nil(t, st.RoundStartTime)
	assert.Equal(t, domain.StatusCompleted, store.games["g1"].Status)
}

func TestRunTick_IdleWhileRoundInProgress(t *testing.T) {
	g := autopilotGame("g1", dur(5*time.Second))
	g.State.Players["b"].HasSubmittedBid = false
	g.State.Players["b"].CurrentBid = nil
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TickIdle, outcomes[0].Action)
	assert.Equal(t, int64(0), store.games["g1"].UpdateSeq)
}

func TestRunTick_SkipsGamesWithoutAutopilot(t *testing.T) {
	enabled := autopilotGame("on", nil)
	disabled := autopilotGame("off", nil)
	disabled.State.Autopilot.Enabled = false
	notStarted := autopilotGame("lobby", nil)
	notStarted.State.HasGameStarted = false
	store := newMockStore(enabled, disabled, notStarted)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "on", outcomes[0].GameID)
}

func TestRunTick_NoQuorumMeansNoMutation(t *testing.T) {
	g := autopilotGame("g1", nil)
	g.State.Players["b"].IsTimedOut = true
	store := newMockStore(g)
	sched := newScheduler(store, &mockMonitor{})

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TickSkipped, outcomes[0].Action)
	assert.Equal(t, int64(0), store.games["g1"].UpdateSeq)
	assert.Nil(t, store.games["g1"].State.RoundStartTime)
}

// Un fallo en una partida no aborta el procesamiento de las demás.
func TestRunTick_IsolatesPerGameFailures(t *testing.T) {
	broken := autopilotGame("broken", dur(2*time.Minute))
	broken.State.MaxBid = 0 // la liquidación fallará con estado inválido

	healthy := autopilotGame("healthy", dur(2*time.Minute))
	store := newMockStore(broken, healthy)
	monitor := &mockMonitor{}
	sched := newScheduler(store, monitor)

	outcomes, err := sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	bad := outcomeFor(t, outcomes, "broken")
	good := outcomeFor(t, outcomes, "healthy")

	assert.Equal(t, domain.TickError, bad.Action)
	require.Error(t, bad.Err)
	assert.ErrorIs(t, bad.Err, domain.ErrInvalidState)

	assert.Equal(t, domain.TickSettled, good.Action)
	require.NotNil(t, store.games["healthy"].State.RoundResultAt(1))
}

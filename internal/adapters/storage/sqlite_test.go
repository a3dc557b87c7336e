package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrytanbeaver/reapbid/internal/adapters/storage"
	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/ports"
)

// --- helpers ---

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fptr(v float64) *float64 { return &v }

func makeGame(id string, active bool) *domain.Game {
	return &domain.Game{
		ID:     id,
		Status: domain.StatusActive,
		State: domain.GameState{
			HasGameStarted: true,
			IsActive:       active,
			CurrentRound:   1,
			TotalRounds:    3,
			RoundTimeLimit: 60,
			MinBid:         10,
			MaxBid:         100,
			CostPerUnit:    30,
			MarketSize:     1000,
			Alpha:          0.5,
			Players: map[string]*domain.Player{
				"a": {Name: "Ana", CurrentBid: fptr(42.5), HasSubmittedBid: true},
				"b": {Name: "Bruno"},
			},
		},
	}
}

// --- games ---

func TestCreateAndGetGame_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, makeGame("g1", true)))

	got, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)

	assert.Equal(t, "g1", got.ID)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, int64(0), got.UpdateSeq)
	assert.Equal(t, 3, got.State.TotalRounds)
	require.NotNil(t, got.State.Players["a"].CurrentBid)
	assert.Equal(t, 42.5, *got.State.Players["a"].CurrentBid)
	assert.Nil(t, got.State.Players["b"].CurrentBid)
}

func TestGetGame_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetGame(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCreateGame_RejectsMalformedState(t *testing.T) {
	store := newTestStore(t)
	g := makeGame("g1", true)
	g.State.MaxBid = 5 // por debajo de minBid

	assert.Error(t, store.CreateGame(context.Background(), g))
}

func TestListActiveGames_FiltersByIsActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, makeGame("active-1", true)))
	require.NoError(t, store.CreateGame(ctx, makeGame("active-2", true)))
	require.NoError(t, store.CreateGame(ctx, makeGame("idle-1", false)))

	games, err := store.ListActiveGames(ctx)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "active-1", games[0].ID)
	assert.Equal(t, "active-2", games[1].ID)
}

func TestUpdateGame_AdvancesSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g := makeGame("g1", true)
	require.NoError(t, store.CreateGame(ctx, g))

	g.State.CurrentRound = 2
	require.NoError(t, store.UpdateGame(ctx, "g1", 0, domain.StatusActive, &g.State))

	got, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UpdateSeq)
	assert.Equal(t, 2, got.State.CurrentRound)
}

// El CAS sobre update_seq es la guardia contra la doble liquidación: un tick
// que llega tarde con la secuencia vieja recibe ErrConflict y no escribe nada.
func TestUpdateGame_StaleSequenceConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g := makeGame("g1", true)
	require.NoError(t, store.CreateGame(ctx, g))
	require.NoError(t, store.UpdateGame(ctx, "g1", 0, domain.StatusActive, &g.State))

	// Segundo escritor con la secuencia ya consumida.
	g.State.CurrentRound = 99
	err := store.UpdateGame(ctx, "g1", 0, domain.StatusActive, &g.State)
	require.ErrorIs(t, err, ports.ErrConflict)

	got, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.State.CurrentRound) // sin escritura parcial
}

func TestUpdateGame_NotFound(t *testing.T) {
	store := newTestStore(t)
	g := makeGame("nope", true)
	err := store.UpdateGame(context.Background(), "nope", 0, domain.StatusActive, &g.State)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

// --- autopilot patch ---

func TestSetAutopilot_PatchesOnlyAutopilotFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, makeGame("g1", true)))
	require.NoError(t, store.SetAutopilot(ctx, "g1", true, time.Now()))

	got, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, got.State.Autopilot.Enabled)
	require.NotNil(t, got.State.Autopilot.LastUpdateTime)
	assert.Equal(t, int64(1), got.UpdateSeq)

	// El resto del documento queda intacto.
	require.NotNil(t, got.State.Players["a"].CurrentBid)
	assert.Equal(t, 42.5, *got.State.Players["a"].CurrentBid)
	assert.Equal(t, 1, got.State.CurrentRound)
}

func TestSetAutopilot_DisableClearsTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, makeGame("g1", true)))
	require.NoError(t, store.SetAutopilot(ctx, "g1", true, time.Now()))
	require.NoError(t, store.SetAutopilot(ctx, "g1", false, time.Now()))

	got, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, got.State.Autopilot.Enabled)
	assert.Nil(t, got.State.Autopilot.LastUpdateTime)
}

func TestSetAutopilot_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.SetAutopilot(context.Background(), "nope", true, time.Now())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

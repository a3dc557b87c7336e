package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/engine"
)

func dueState(startedAgo time.Duration, players map[string]*domain.Player) *domain.GameState {
	start := domain.EpochMillis(time.Now().Add(-startedAgo))
	return &domain.GameState{
		HasGameStarted: true,
		IsActive:       true,
		CurrentRound:   1,
		TotalRounds:    3,
		RoundTimeLimit: 60,
		RoundStartTime: &start,
		MinBid:         10,
		MaxBid:         100,
		Players:        players,
	}
}

func TestShouldProcessRound_TimeLimitExpired(t *testing.T) {
	st := dueState(90*time.Second, map[string]*domain.Player{
		"a": makePlayer("Ana", nil, false, false),
		"b": makePlayer("Bruno", nil, false, false),
	})
	assert.True(t, engine.ShouldProcessRound(st, time.Now()))
}

func TestShouldProcessRound_AllSubmittedBeforeLimit(t *testing.T) {
	st := dueState(5*time.Second, map[string]*domain.Player{
		"a": makePlayer("Ana", fptr(50), true, false),
		"b": makePlayer("Bruno", fptr(60), true, false),
	})
	assert.True(t, engine.ShouldProcessRound(st, time.Now()))
}

func TestShouldProcessRound_NotDueYet(t *testing.T) {
	st := dueState(5*time.Second, map[string]*domain.Player{
		"a": makePlayer("Ana", fptr(50), true, false),
		"b": makePlayer("Bruno", nil, false, false),
	})
	assert.False(t, engine.ShouldProcessRound(st, time.Now()))
}

// Sin quórum una ronda nunca vence, ni siquiera con el tiempo agotado: una
// partida estancada con <2 activos no se auto-liquida.
func TestShouldProcessRound_NeverDueBelowQuorum(t *testing.T) {
	st := dueState(10*time.Minute, map[string]*domain.Player{
		"a": makePlayer("Ana", fptr(50), true, false),
		"b": makePlayer("Bruno", fptr(60), true, true),
	})
	assert.False(t, engine.ShouldProcessRound(st, time.Now()))
}

func TestShouldProcessRound_FalseWithoutRoundStart(t *testing.T) {
	st := dueState(0, map[string]*domain.Player{
		"a": makePlayer("Ana", nil, false, false),
		"b": makePlayer("Bruno", nil, false, false),
	})
	st.RoundStartTime = nil
	assert.False(t, engine.ShouldProcessRound(st, time.Now()))
}

func TestShouldProcessRound_IdempotentWithoutStateChange(t *testing.T) {
	st := dueState(90*time.Second, map[string]*domain.Player{
		"a": makePlayer("Ana", nil, false, false),
		"b": makePlayer("Bruno", nil, false, false),
	})
	now := time.Now()
	first := engine.ShouldProcessRound(st, now)
	second := engine.ShouldProcessRound(st, now)
	assert.Equal(t, first, second)
	assert.True(t, first)
}

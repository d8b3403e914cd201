package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somabus/soma/pkg/schema"
)

func testObs(t *testing.T) *schema.Observation {
	t.Helper()
	obs, err := schema.NewMessage("adapter:text_input", "user:alice", "alice", "hello")
	require.NoError(t, err)
	return obs
}

func TestInMemoryEventAndTurnLifecycle(t *testing.T) {
	m := NewInMemory(0)
	ctx := context.Background()

	eventID, err := m.AppendEvent(ctx, testObs(t), "user:alice", map[string]any{"action": "deliver"})
	require.NoError(t, err)
	require.NotEmpty(t, eventID)

	turnID, err := m.AppendTurn(ctx, "user:alice", eventID, nil)
	require.NoError(t, err)

	require.NoError(t, m.FinishTurn(ctx, turnID, "obs-42", StatusOK, ""))

	turn, ok := m.Turn(turnID)
	require.True(t, ok)
	assert.Equal(t, eventID, turn.InputEventID)
	assert.Equal(t, "obs-42", turn.FinalObsID)
	assert.Equal(t, StatusOK, turn.Status)
	assert.False(t, turn.FinishedAt.IsZero())

	events := m.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "user:alice", events[0].SessionKey)
}

func TestInMemoryBoundsEvents(t *testing.T) {
	m := NewInMemory(2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.AppendEvent(ctx, testObs(t), "user:alice", nil)
		require.NoError(t, err)
	}
	assert.Len(t, m.Events(), 2)
}

func TestInMemoryFinishUnknownTurn(t *testing.T) {
	m := NewInMemory(0)
	err := m.FinishTurn(context.Background(), "nope", "", StatusError, "boom")
	assert.ErrorIs(t, err, ErrUnknownTurn)
}

func TestInMemoryClosedRejectsWrites(t *testing.T) {
	m := NewInMemory(0)
	require.NoError(t, m.Close())

	_, err := m.AppendEvent(context.Background(), testObs(t), "user:alice", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

type failingService struct{}

func (failingService) AppendEvent(context.Context, *schema.Observation, string, map[string]any) (string, error) {
	return "", errors.New("db down")
}

func (failingService) AppendTurn(context.Context, string, string, map[string]any) (string, error) {
	return "", errors.New("db down")
}

func (failingService) FinishTurn(context.Context, string, string, string, string) error {
	return errors.New("db down")
}

func (failingService) Close() error { return errors.New("db down") }

func TestFailOpenSwallowsErrors(t *testing.T) {
	f := NewFailOpen(failingService{})
	ctx := context.Background()

	id, err := f.AppendEvent(ctx, testObs(t), "user:alice", nil)
	assert.NoError(t, err)
	assert.Empty(t, id)

	turnID, err := f.AppendTurn(ctx, "user:alice", "ev", nil)
	assert.NoError(t, err)
	assert.Empty(t, turnID)

	assert.NoError(t, f.FinishTurn(ctx, "turn", "", StatusError, "x"))
	assert.NoError(t, f.Close())

	assert.Equal(t, int64(4), f.ErrorTotal())
}

func TestFailOpenNilService(t *testing.T) {
	f := NewFailOpen(nil)

	id, err := f.AppendEvent(context.Background(), testObs(t), "user:alice", nil)
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, f.Close())
	assert.Zero(t, f.ErrorTotal())
}

func TestFailOpenEmptyTurnIDIsNoop(t *testing.T) {
	f := NewFailOpen(failingService{})
	assert.NoError(t, f.FinishTurn(context.Background(), "", "", StatusOK, ""))
	assert.Zero(t, f.ErrorTotal())
}

package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileReplacesSnapshot(t *testing.T) {
	state := BoardState{}
	id := uuid.New()

	require.NoError(t, state.Reconcile(NewEnvelope(EventOrderCreated, Order{ID: id, Status: StatusAccepted})))
	require.NoError(t, state.Reconcile(NewEnvelope(EventOrderUpdated, Order{ID: id, Status: StatusReady})))

	assert.Len(t, state, 1)
	assert.Equal(t, StatusReady, state[id].Status)
}

func TestReconcileDropsTerminalOrders(t *testing.T) {
	state := BoardState{}
	id := uuid.New()

	require.NoError(t, state.Reconcile(NewEnvelope(EventOrderCreated, Order{ID: id, Status: StatusReady})))
	require.NoError(t, state.Reconcile(NewEnvelope(EventOrderUpdated, Order{ID: id, Status: StatusCompleted})))

	assert.Empty(t, state)
}

func TestReconcileConvergesOutOfOrder(t *testing.T) {
	// A display that missed intermediate events converges on the last snapshot.
	state := BoardState{}
	id := uuid.New()

	require.NoError(t, state.Reconcile(NewEnvelope(EventOrderUpdated, Order{ID: id, Status: StatusReady})))
	assert.Equal(t, StatusReady, state[id].Status)
}

func TestReconcileRejectsUnknownKind(t *testing.T) {
	state := BoardState{}
	err := state.Reconcile(Envelope{Kind: "order.vanished"})
	assert.Error(t, err)
}

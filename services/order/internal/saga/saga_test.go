package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	deadline := time.Now().Add(5 * time.Minute)
	s := New("order-123", deadline)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "order-123", s.OrderID)
	assert.Equal(t, StateAwaitingCustomerCheck, s.State)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, deadline, s.Deadline)
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateAwaitingCustomerCheck.IsTerminal())
	assert.False(t, StateAwaitingInventoryReservation.IsTerminal())
	assert.True(t, StateConfirmed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}

func TestSaga_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{"проверка → резервирование", StateAwaitingCustomerCheck, StateAwaitingInventoryReservation, true},
		{"проверка → отмена", StateAwaitingCustomerCheck, StateCancelled, true},
		{"проверка → подтверждение напрямую", StateAwaitingCustomerCheck, StateConfirmed, false},
		{"резервирование → подтверждение", StateAwaitingInventoryReservation, StateConfirmed, true},
		{"резервирование → отмена", StateAwaitingInventoryReservation, StateCancelled, true},
		{"резервирование → назад к проверке", StateAwaitingInventoryReservation, StateAwaitingCustomerCheck, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSaga("order-123", tt.from)
			assert.Equal(t, tt.allowed, s.CanTransitionTo(tt.to))

			err := s.TransitionTo(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, s.State)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, s.State)
			}
		})
	}
}

func TestSaga_TerminalStatesAbsorbTransitions(t *testing.T) {
	targets := []State{
		StateAwaitingCustomerCheck,
		StateAwaitingInventoryReservation,
		StateConfirmed,
		StateCancelled,
	}

	for _, terminal := range []State{StateConfirmed, StateCancelled} {
		for _, target := range targets {
			s := testSaga("order-123", terminal)

			err := s.TransitionTo(target)

			assert.ErrorIs(t, err, ErrSagaFinished,
				"переход %s → %s должен быть отвергнут", terminal, target)
			assert.Equal(t, terminal, s.State)
		}
	}
}

func TestSaga_AdvanceToReservation_RefreshesDeadline(t *testing.T) {
	s := testSaga("order-123", StateAwaitingCustomerCheck)
	oldDeadline := s.Deadline

	newDeadline := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.AdvanceToReservation(newDeadline))

	assert.Equal(t, StateAwaitingInventoryReservation, s.State)
	assert.Equal(t, newDeadline, s.Deadline)
	assert.NotEqual(t, oldDeadline, s.Deadline)
}

func TestSaga_Cancel_SetsReason(t *testing.T) {
	s := testSaga("order-123", StateAwaitingInventoryReservation)

	require.NoError(t, s.Cancel("insufficient_stock"))

	assert.Equal(t, StateCancelled, s.State)
	require.NotNil(t, s.Reason)
	assert.Equal(t, "insufficient_stock", *s.Reason)
}

func TestSaga_Expired(t *testing.T) {
	now := time.Now()

	active := testSaga("order-1", StateAwaitingCustomerCheck)
	active.Deadline = now.Add(time.Minute)
	assert.False(t, active.Expired(now))

	overdue := testSaga("order-2", StateAwaitingInventoryReservation)
	overdue.Deadline = now.Add(-time.Minute)
	assert.True(t, overdue.Expired(now))

	// Терминальная сага не бывает просроченной
	finished := testSaga("order-3", StateConfirmed)
	finished.Deadline = now.Add(-time.Hour)
	assert.False(t, finished.Expired(now))
}

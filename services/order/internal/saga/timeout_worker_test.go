package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func expiredSaga(orderID string, state State) *Saga {
	s := New(orderID, time.Now().Add(-time.Minute))
	s.State = state
	return s
}

func TestTimeoutWorker_SweepCancelsExpiredSagas(t *testing.T) {
	sagaRepo := new(mockRepository)
	coord := new(mockCoordinator)
	worker := NewTimeoutWorker(sagaRepo, coord, DefaultTimeoutWorkerConfig())

	expired := []*Saga{
		expiredSaga("order-1", StateAwaitingCustomerCheck),
		expiredSaga("order-2", StateAwaitingInventoryReservation),
	}

	sagaRepo.On("GetExpired", mock.Anything, mock.Anything, 50).Return(expired, nil)
	coord.On("CancelOnTimeout", mock.Anything, "order-1").Return(nil)
	coord.On("CancelOnTimeout", mock.Anything, "order-2").Return(nil)

	worker.sweep(context.Background())

	coord.AssertExpectations(t)
}

func TestTimeoutWorker_SweepToleratesCancelError(t *testing.T) {
	// Ошибка отмены одной саги не прерывает обработку остальных
	sagaRepo := new(mockRepository)
	coord := new(mockCoordinator)
	worker := NewTimeoutWorker(sagaRepo, coord, DefaultTimeoutWorkerConfig())

	expired := []*Saga{
		expiredSaga("order-1", StateAwaitingCustomerCheck),
		expiredSaga("order-2", StateAwaitingCustomerCheck),
	}

	sagaRepo.On("GetExpired", mock.Anything, mock.Anything, 50).Return(expired, nil)
	coord.On("CancelOnTimeout", mock.Anything, "order-1").Return(assert.AnError)
	coord.On("CancelOnTimeout", mock.Anything, "order-2").Return(nil)

	worker.sweep(context.Background())

	coord.AssertExpectations(t)
}

func TestTimeoutWorker_SweepSkipsOnRepositoryError(t *testing.T) {
	sagaRepo := new(mockRepository)
	coord := new(mockCoordinator)
	worker := NewTimeoutWorker(sagaRepo, coord, DefaultTimeoutWorkerConfig())

	sagaRepo.On("GetExpired", mock.Anything, mock.Anything, 50).
		Return(([]*Saga)(nil), assert.AnError)

	worker.sweep(context.Background())

	coord.AssertNotCalled(t, "CancelOnTimeout", mock.Anything, mock.Anything)
}

func TestTimeoutWorker_RunStopsOnContextCancel(t *testing.T) {
	sagaRepo := new(mockRepository)
	coord := new(mockCoordinator)
	worker := NewTimeoutWorker(sagaRepo, coord, TimeoutWorkerConfig{
		SweepInterval: time.Hour, // До первого тика дело не дойдёт
		BatchSize:     50,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker не остановился после отмены контекста")
	}
}

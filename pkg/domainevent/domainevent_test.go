package domainevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_RecordPreservesOrder(t *testing.T) {
	var buf Buffer

	buf.Record("order-1", Kind("order.created"), map[string]string{"id": "order-1"})
	buf.Record("order-1", Kind("order.total_calculated"), nil)
	buf.Record("order-1", Kind("order.confirmed"), nil)

	events := buf.Uncommitted()
	require.Len(t, events, 3)
	assert.Equal(t, Kind("order.created"), events[0].Kind)
	assert.Equal(t, Kind("order.total_calculated"), events[1].Kind)
	assert.Equal(t, Kind("order.confirmed"), events[2].Kind)

	// У каждого события свой уникальный ID
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, "order-1", events[0].AggregateID)
	assert.False(t, events[0].OccurredAt.IsZero())
}

func TestBuffer_UncommittedReturnsCopy(t *testing.T) {
	var buf Buffer
	buf.Record("order-1", Kind("order.created"), nil)

	events := buf.Uncommitted()
	events[0].Kind = Kind("mutated")

	assert.Equal(t, Kind("order.created"), buf.Uncommitted()[0].Kind)
}

func TestBuffer_Clear(t *testing.T) {
	var buf Buffer
	buf.Record("order-1", Kind("order.created"), nil)
	buf.Record("order-1", Kind("order.cancelled"), nil)
	require.Equal(t, 2, buf.Len())

	buf.Clear()

	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Uncommitted())
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBus_FiltersByWorkflow(t *testing.T) {
	bus := NewEventBus(8, 0, zap.NewNop())
	all, cancelAll := bus.Subscribe("")
	defer cancelAll()
	one, cancelOne := bus.Subscribe("wf-1")
	defer cancelOne()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(Event{Type: EventWorkflowStarted, WorkflowID: "wf-1"})
	bus.Publish(Event{Type: EventWorkflowStarted, WorkflowID: "wf-2"})

	assert.Len(t, drainEvents(all), 2)
	got := drainEvents(one)
	require.Len(t, got, 1)
	assert.Equal(t, "wf-1", got[0].WorkflowID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEventBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus(2, 1, nil)
	ch, cancel := bus.Subscribe("")
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventNodeStarted, WorkflowID: "wf", Attempt: i + 1})
	}

	got := drainEvents(ch)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Attempt)
	assert.Equal(t, 2, got[1].Attempt)
	assert.Equal(t, int64(3), bus.Dropped())
}

func TestEventBus_CancelClosesChannel(t *testing.T) {
	bus := NewEventBus(0, -1, nil)
	ch, cancel := bus.Subscribe("wf")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, bus.Subscribers())

	// 取消后发布不会 panic
	bus.Publish(Event{Type: EventWorkflowCompleted, WorkflowID: "wf"})
	assert.Zero(t, bus.Dropped())
}

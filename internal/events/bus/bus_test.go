package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToRegisteredSubscriber(t *testing.T) {
	b := NewBus(nil)
	ch := b.Subscribe("s1", 1)

	b.Publish(New(TaskCreated, map[string]string{"id": "t1"}))

	select {
	case got := <-ch:
		assert.Equal(t, TaskCreated, got.Type)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublish_DropsAndCountsWhenBufferFull(t *testing.T) {
	b := NewBus(nil)
	ch := b.Subscribe("s1", 1)

	b.Publish(New(TaskCreated, 1))
	b.Publish(New(TaskUpdated, 2))
	b.Publish(New(TaskUpdated, 3))

	metrics := b.GetMetrics()
	assert.Equal(t, int64(2), metrics.DroppedEvents)
	assert.Equal(t, int64(2), metrics.DropsPerSubscriber["s1"])

	first := <-ch
	assert.Equal(t, TaskCreated, first.Type)
}

func TestPublish_OneFullSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBus(nil)
	full := b.Subscribe("full", 1)
	healthy := b.Subscribe("healthy", 4)

	b.Publish(New(TaskCreated, nil)) // fills "full"'s buffer
	b.Publish(New(TaskUpdated, nil)) // dropped for "full", delivered to "healthy"

	require.Len(t, full, 1)
	assert.Len(t, healthy, 2)
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	b := NewBus(nil)
	ch := b.Subscribe("s1", 4)
	b.Unsubscribe("s1")

	b.Publish(New(TaskCreated, nil))
	assert.Len(t, ch, 0)
	assert.Equal(t, 0, b.SubscriberCount())
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := NewBroker(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(Event{Type: TypeDispatched, Action: "qm-start", OK: true})

	ev1 := <-sub1.Ch
	ev2 := <-sub2.Ch
	assert.Equal(t, "qm-start", ev1.Action)
	assert.Equal(t, "qm-start", ev2.Action)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(4)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(Event{Type: TypeFailed, Action: "qm-stop"})
	_, ok := <-sub.Ch
	assert.False(t, ok)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe()
	b.Publish(Event{Action: "a"})
	b.Publish(Event{Action: "b"}) // dropped, buffer full

	ev := <-sub.Ch
	assert.Equal(t, "a", ev.Action)
}

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutDelivers(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeJobDispatched, Data: "j1"})

	ev := <-a
	assert.Equal(t, TypeJobDispatched, ev.Type)
	assert.Equal(t, "j1", ev.Data)
	assert.False(t, ev.Time.IsZero())

	ev = <-c
	assert.Equal(t, "j1", ev.Data)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New().(*fanout)
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeChannelDelivered})
	b.Publish(Event{Type: TypeChannelFailed})

	assert.Equal(t, uint64(1), b.Dropped())
	ev := <-ch
	assert.Equal(t, TypeChannelDelivered, ev.Type)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %q", ev.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(Event{Type: TypeBreakerOpen})
}

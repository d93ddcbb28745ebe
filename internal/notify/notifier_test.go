package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/obmen/internal/domain"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	first := b.Subscribe()
	second := b.Subscribe()
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	event := Event{UserID: "42", Outcome: domain.OutcomeSucceeded}
	b.SwapExecuted(context.Background(), event)

	for _, ch := range []chan Event{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, "42", got.UserID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcaster_DropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.SwapExecuted(context.Background(), Event{UserID: "first"})
	b.SwapExecuted(context.Background(), Event{UserID: "dropped"})

	got := <-ch
	assert.Equal(t, "first", got.UserID)

	select {
	case extra := <-ch:
		t.Fatalf("expected overflow to be dropped, got %q", extra.UserID)
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)

	// double unsubscribe must not panic
	b.Unsubscribe(ch)

	// publishing after unsubscribe must not reach the closed channel
	b.SwapExecuted(context.Background(), Event{UserID: "42"})
}

func TestMulti_FansOut(t *testing.T) {
	b1 := NewBroadcaster(1)
	b2 := NewBroadcaster(1)
	c1 := b1.Subscribe()
	c2 := b2.Subscribe()
	defer b1.Unsubscribe(c1)
	defer b2.Unsubscribe(c2)

	Multi{b1, b2}.SwapExecuted(context.Background(), Event{UserID: "42"})

	assert.Equal(t, "42", (<-c1).UserID)
	assert.Equal(t, "42", (<-c2).UserID)
}

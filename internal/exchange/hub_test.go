package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketwatch-go/internal/market"
)

func TestTickHubFanOut(t *testing.T) {
	hub := NewTickHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	require.Equal(t, 2, hub.Len())

	tk := market.Tick{Symbol: "EURUSD", Time: time.Unix(1_700_000_000, 0), Bid: 1.1, Ask: 1.2}
	hub.Publish(tk)
	require.Equal(t, tk, <-a)
	require.Equal(t, tk, <-b)

	// a full subscriber misses ticks instead of blocking the hub
	hub.Publish(tk)
	hub.Publish(market.Tick{Symbol: "EURUSD", Bid: 9})
	require.Equal(t, tk, <-a)
	select {
	case extra := <-a:
		t.Fatalf("unexpected extra tick %+v", extra)
	default:
	}
}

func TestTickHubClosesOnCancel(t *testing.T) {
	hub := NewTickHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	hub.Publish(market.Tick{Symbol: "EURUSD"})
}

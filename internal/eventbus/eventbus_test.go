package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestBusDispatchesByType(t *testing.T) {
	b := New()
	var got []int
	var pongs int
	On(b, func(_ context.Context, p ping) { got = append(got, p.n) })
	On(b, func(_ context.Context, p ping) { got = append(got, p.n*10) })
	On(b, func(context.Context, pong) { pongs++ })

	Emit(t.Context(), b, ping{n: 2})
	Emit(t.Context(), b, "ignored")
	require.Equal(t, []int{2, 20}, got)
	require.Zero(t, pongs)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var got []string
	h := func(_ context.Context, p ping) { got = append(got, "h") }
	first := On(b, h)
	On(b, h)

	first()
	first()
	Emit(t.Context(), b, ping{})
	require.Equal(t, []string{"h"}, got)
}

func TestGlobalBus(t *testing.T) {
	t.Cleanup(func() { Use(nil) })

	Use(nil)
	var calls int
	Subscribe(func(context.Context, ping) { calls++ })()
	Publish(t.Context(), ping{})
	require.Zero(t, calls)

	Use(New())
	unsubscribe := Subscribe(func(context.Context, ping) { calls++ })
	Publish(t.Context(), ping{})
	unsubscribe()
	Publish(t.Context(), ping{})
	require.Equal(t, 1, calls)
}

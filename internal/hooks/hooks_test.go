package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRunsHandlersInRegistrationOrder(t *testing.T) {
	r := New(false)
	var order []int

	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		order = append(order, 1)
		return Result{}
	})
	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		order = append(order, 2)
		return Result{}
	})

	result := r.Dispatch(context.Background(), Context{Event: PreTask})
	assert.False(t, result.Block)
	assert.Equal(t, []int{1, 2}, order)
}

func TestDispatchStopsAtFirstBlock(t *testing.T) {
	r := New(false)
	var ran []int

	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		ran = append(ran, 1)
		return Result{Block: true, Reason: "nope"}
	})
	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		ran = append(ran, 2)
		return Result{}
	})

	result := r.Dispatch(context.Background(), Context{Event: PreTask})
	require.True(t, result.Block)
	assert.Equal(t, "nope", result.Reason)
	assert.Equal(t, []int{1}, ran, "second handler must not run after a block")
}

func TestDispatchShieldsPanickingHandler(t *testing.T) {
	r := New(false)
	var secondRan bool

	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		panic("boom")
	})
	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		secondRan = true
		return Result{}
	})

	result := r.Dispatch(context.Background(), Context{Event: PreTask})
	assert.False(t, result.Block)
	assert.True(t, secondRan, "a panicking handler must not block the rest of the chain")
}

func TestUnregisterRemovesOnlyMatchingHandler(t *testing.T) {
	r := New(false)
	var ran []string

	ref1 := r.Register(OnMessage, func(ctx context.Context, hctx Context) Result {
		ran = append(ran, "a")
		return Result{}
	})
	r.Register(OnMessage, func(ctx context.Context, hctx Context) Result {
		ran = append(ran, "b")
		return Result{}
	})

	require.True(t, r.Unregister(OnMessage, ref1))
	assert.False(t, r.Unregister(OnMessage, ref1), "second unregister of the same ref finds nothing")

	r.Dispatch(context.Background(), Context{Event: OnMessage})
	assert.Equal(t, []string{"b"}, ran)
}

func TestClearWithEventOnlyAffectsThatEvent(t *testing.T) {
	r := New(false)
	var fired []Event

	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		fired = append(fired, PreTask)
		return Result{}
	})
	r.Register(PostTask, func(ctx context.Context, hctx Context) Result {
		fired = append(fired, PostTask)
		return Result{}
	})

	r.Clear(PreTask)
	r.Dispatch(context.Background(), Context{Event: PreTask})
	r.Dispatch(context.Background(), Context{Event: PostTask})

	assert.Equal(t, []Event{PostTask}, fired)
}

func TestClearWithNoEventClearsEverything(t *testing.T) {
	r := New(false)
	var fired bool
	r.Register(PreTask, func(ctx context.Context, hctx Context) Result {
		fired = true
		return Result{}
	})

	r.Clear("")
	r.Dispatch(context.Background(), Context{Event: PreTask})
	assert.False(t, fired)
}

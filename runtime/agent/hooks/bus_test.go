package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		_, err := bus.Register(SubscriberFunc(func(context.Context, Event) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, bus.Publish(ctx, NewRunStatusChangedEvent("t1", "r1", run.StatusIdle, run.StatusStreaming, 1, nil)))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusStopsAtFirstError(t *testing.T) {
	bus := NewBus()
	boom := errors.New("persist failed")
	reached := false
	_, _ = bus.Register(SubscriberFunc(func(context.Context, Event) error { return boom }))
	_, _ = bus.Register(SubscriberFunc(func(context.Context, Event) error {
		reached = true
		return nil
	}))
	err := bus.Publish(context.Background(), NewAgentStateChangedEvent("t1", "r1", nil))
	require.ErrorIs(t, err, boom)
	require.False(t, reached)
}

func TestBusRegisterNil(t *testing.T) {
	_, err := NewBus().Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub, err := bus.Register(SubscriberFunc(func(context.Context, Event) error {
		count++
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, NewRunStatusChangedEvent("t1", "r1", run.StatusIdle, run.StatusStreaming, 1, nil)))
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(ctx, NewRunStatusChangedEvent("t1", "r1", run.StatusStreaming, run.StatusFinished, 1, nil)))
	require.Equal(t, 1, count)
}

func TestAgentStateEventClonesState(t *testing.T) {
	s := agent.NewState(agent.StatusExecuting).WithProgress(1, 3, "tools")
	evt := NewAgentStateChangedEvent("t1", "r1", s)
	s.Progress.Current = 2
	require.Equal(t, 1, evt.State.Progress.Current)
	require.Equal(t, "t1", evt.ThreadID())
	require.Equal(t, AgentStateChanged, evt.Type())
	require.NotZero(t, evt.Timestamp())
}

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sebsto/wispr/internal/fsm"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	h := newHub()
	a, cancelA := h.subscribe(4)
	b, cancelB := h.subscribe(4)
	defer cancelA()
	defer cancelB()

	h.publish(StateChange{State: fsm.StateRecording})

	require.Equal(t, fsm.StateRecording, (<-a).State)
	require.Equal(t, fsm.StateRecording, (<-b).State)
}

func TestHubSeedsLateSubscriber(t *testing.T) {
	h := newHub()
	h.publish(StateChange{State: fsm.StateProcessing})

	ch, cancel := h.subscribe(4)
	defer cancel()
	require.Equal(t, fsm.StateProcessing, (<-ch).State)
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe(1)
	defer cancel()

	states := []fsm.State{
		fsm.StateRecording, fsm.StateProcessing, fsm.StateIdle,
		fsm.StateRecording, fsm.StateProcessing,
	}
	for _, s := range states {
		h.publish(StateChange{State: s})
	}

	// only the newest change survives in the full buffer
	require.Equal(t, fsm.StateProcessing, (<-ch).State)
	select {
	case sc := <-ch:
		t.Fatalf("unexpected extra change %v", sc.State)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe(4)
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	// publishing after unsubscribe must not panic
	h.publish(StateChange{State: fsm.StateIdle})
	cancel()
}

func TestHubCloseClosesAllSubscribers(t *testing.T) {
	h := newHub()
	a, _ := h.subscribe(4)
	b, _ := h.subscribe(4)

	h.close()

	_, ok := <-a
	require.False(t, ok)
	_, ok = <-b
	require.False(t, ok)

	late, _ := h.subscribe(4)
	_, ok = <-late
	require.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

package sse

import (
	"testing"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterPushDeregister(t *testing.T) {
	h := NewHub()
	frames, deregister := h.Register("owner-1", "agent-1")
	require.Equal(t, 1, h.Connections("owner-1", "agent-1"))

	h.Push("owner-1", "agent-1", Frame{EventName: "test", Event: models.Event{BreadcrumbID: "bc-1"}})
	frame := <-frames
	require.Equal(t, "bc-1", frame.Event.BreadcrumbID)

	deregister()
	require.Equal(t, 0, h.Connections("owner-1", "agent-1"))
}

func TestHub_PushToUnknownConnectionIsNoop(t *testing.T) {
	h := NewHub()
	require.NotPanics(t, func() {
		h.Push("owner-x", "agent-x", Frame{Event: models.Event{}})
	})
}

func TestHub_PushDropsFrameWhenBufferFull(t *testing.T) {
	h := NewHub()
	_, deregister := h.Register("owner-1", "agent-1")
	defer deregister()

	for i := 0; i < 100; i++ {
		h.Push("owner-1", "agent-1", Frame{Event: models.Event{BreadcrumbID: "bc-1"}})
	}
	require.Equal(t, 1, h.Connections("owner-1", "agent-1"))
}

func TestHub_MultipleConnectionsForSamePairBothReceive(t *testing.T) {
	h := NewHub()
	f1, d1 := h.Register("owner-1", "agent-1")
	f2, d2 := h.Register("owner-1", "agent-1")
	defer d1()
	defer d2()

	require.Equal(t, 2, h.Connections("owner-1", "agent-1"))
	h.Push("owner-1", "agent-1", Frame{Event: models.Event{BreadcrumbID: "bc-2"}})

	got1 := <-f1
	got2 := <-f2
	require.Equal(t, "bc-2", got1.Event.BreadcrumbID)
	require.Equal(t, "bc-2", got2.Event.BreadcrumbID)
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestSubjects_FormatsBreadcrumbAndKind(t *testing.T) {
	e := models.Event{BreadcrumbID: "bc-1", Type: models.EventCreated}
	require.Equal(t, []string{"bc.bc-1.breadcrumb.created"}, Subjects(e))
}

func TestAgentSubject(t *testing.T) {
	require.Equal(t, "agents.agent-1.events", AgentSubject("agent-1"))
}

func TestMemoryBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	consumer, err := b.Subscribe(context.Background(), "bc.1.breadcrumb.created", "c1", "")
	require.NoError(t, err)
	defer consumer.Close()

	event := models.Event{BreadcrumbID: "bc-1", Type: models.EventCreated}
	require.NoError(t, b.Publish(context.Background(), "bc.1.breadcrumb.created", event))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := consumer.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "bc-1", msg.Event.BreadcrumbID)
}

func TestMemoryBus_NoSubscriberNeverBlocksPublish(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	err := b.Publish(context.Background(), "bc.unheard.breadcrumb.created", models.Event{})
	require.NoError(t, err)
}

func TestMemoryBus_ConsumerCloseStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	consumer, err := b.Subscribe(context.Background(), "subj", "c1", "")
	require.NoError(t, err)
	require.NoError(t, consumer.Close())

	require.NoError(t, b.Publish(context.Background(), "subj", models.Event{}))
}

package webhook

import (
	"context"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
)

// StoreSecretLookup resolves webhook endpoints from the agent record
// registered via POST /agents/{id}/webhooks.
type StoreSecretLookup struct {
	Store store.Store
}

func (l *StoreSecretLookup) WebhookEndpoint(ctx context.Context, owner, agentID string) (string, string, error) {
	agent, err := l.Store.GetAgent(ctx, owner, agentID)
	if err != nil {
		return "", "", err
	}
	return agent.WebhookURL, agent.WebhookSecret, nil
}

package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/promptcraft-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "promptcraft-prod"}

	require.Equal(t, "projects/promptcraft-prod/topics/ledger", c.topicResourceName("ledger"))
	require.Equal(t, "projects/other/topics/ledger", c.topicResourceName("projects/other/topics/ledger"))
	require.Equal(t, "projects/promptcraft-prod/subscriptions/ledger-sub", c.subscriptionResourceName(" ledger-sub "))
	require.Empty(t, c.topicResourceName(""))

	var nilClient *Client
	require.Empty(t, nilClient.topicResourceName("ledger"))
	require.Nil(t, nilClient.Publisher("ledger"))
	require.Nil(t, nilClient.LedgerSubscription())
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{LedgerTopic: "ledger"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errTopicRequired)
}

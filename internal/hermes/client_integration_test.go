//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_SessionEvents(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	logger := slog.Default()

	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), logger)
	require.NoError(t, err)
	defer client.Close()

	received := make(chan SessionEvent, 1)
	err = client.Subscribe("reshaper.transform.>", func(subject string, data []byte) {
		var ev SessionEvent
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	NewPublisher(client, logger).Emit(SubjectTransformPreviewed, SessionEvent{
		SessionID: "integration",
		InputRows: 3,
		Mode:      "per_row",
	})

	select {
	case ev := <-received:
		assert.Equal(t, "integration", ev.SessionID)
		assert.Equal(t, "per_row", ev.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

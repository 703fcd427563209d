package messagepipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-userstatus/pkg/messagepipeline"
	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeFeedPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func TestGooglePubsubProducer_PublishAndStop(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	client, _, subscription := setupTestPubsub(t, "test-project", "status-changes", "status-changes-sub")

	cfg := messagepipeline.NewGooglePubsubProducerDefaults("status-changes")
	cfg.BatchDelay = 10 * time.Millisecond
	producer, err := messagepipeline.NewGooglePubsubProducer[changeFeedPayload](testCtx, cfg, client, zerolog.Nop())
	require.NoError(t, err)
	producer.Start(testCtx)

	state := &messageState{}
	original := state.message("event-1", nil)
	original.Attributes = map[string]string{"source": "presence"}
	producer.Input() <- &types.BatchedMessage[changeFeedPayload]{
		OriginalMessage: original,
		Payload:         &changeFeedPayload{UserID: "alice", Status: "away"},
	}

	require.Eventually(t, state.IsAcked, 5*time.Second, 20*time.Millisecond, "original message was not acked after publish")

	var mu sync.Mutex
	var received *pubsub.Message
	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)
	go func() {
		err := subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			mu.Lock()
			received = msg
			mu.Unlock()
			msg.Ack()
			receiveCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("subscription receive error: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 5*time.Second, 50*time.Millisecond, "did not receive message from subscription")

	var got changeFeedPayload
	require.NoError(t, json.Unmarshal(received.Data, &got))
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "away", got.Status)
	assert.Equal(t, "presence", received.Attributes["source"])

	stopCtx, stopCancel := context.WithTimeout(testCtx, 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, producer.Stop(stopCtx))
	assert.False(t, state.IsNacked())
}

func TestNewGooglePubsubProducer_TopicDoesNotExist(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client, _, _ := setupTestPubsub(t, "test-project", "present-topic", "present-sub")

	cfg := messagepipeline.NewGooglePubsubProducerDefaults("absent-topic")
	cfg.TopicExistsTimeout = 2 * time.Second
	_, err := messagepipeline.NewGooglePubsubProducer[changeFeedPayload](ctx, cfg, client, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

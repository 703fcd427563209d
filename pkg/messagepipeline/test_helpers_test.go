package messagepipeline_test

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub starts an in-process Pub/Sub server with one topic and one subscription.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Topic, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client, topic, sub
}

// MockMessageConsumer is a MessageConsumer fed by Push.
type MockMessageConsumer struct {
	msgChan    chan types.ConsumedMessage
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage { return m.msgChan }

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockMessageConsumer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.doneChan)
		close(m.msgChan)
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) { m.msgChan <- msg }

func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) Counts() (start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}

// MockMessageProcessor records every message it receives and optionally Acks it.
type MockMessageProcessor[T any] struct {
	inputChan    chan *types.BatchedMessage[T]
	mu           sync.Mutex
	received     []*types.BatchedMessage[T]
	wg           sync.WaitGroup
	startCount   int
	stopCount    int
	ackOnProcess bool
}

func NewMockMessageProcessor[T any](bufferSize int) *MockMessageProcessor[T] {
	return &MockMessageProcessor[T]{inputChan: make(chan *types.BatchedMessage[T], bufferSize)}
}

func (m *MockMessageProcessor[T]) Input() chan<- *types.BatchedMessage[T] { return m.inputChan }

func (m *MockMessageProcessor[T]) Start(ctx context.Context) {
	m.mu.Lock()
	m.startCount++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range m.inputChan {
			m.mu.Lock()
			m.received = append(m.received, msg)
			ack := m.ackOnProcess
			m.mu.Unlock()
			if ack {
				msg.OriginalMessage.AckIfSet()
			}
		}
	}()
}

func (m *MockMessageProcessor[T]) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	close(m.inputChan)
	m.wg.Wait()
	return nil
}

func (m *MockMessageProcessor[T]) Received() []*types.BatchedMessage[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BatchedMessage[T], len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockMessageProcessor[T]) SetAckOnProcess(b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackOnProcess = b
}

func (m *MockMessageProcessor[T]) Counts() (start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}

// messageState tracks Ack/Nack calls for one message.
type messageState struct {
	mu    sync.Mutex
	acked bool
	naked bool
}

func (s *messageState) Ack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = true
}

func (s *messageState) Nack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.naked = true
}

func (s *messageState) IsAcked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

func (s *messageState) IsNacked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.naked
}

func (s *messageState) message(id string, payload []byte) types.ConsumedMessage {
	return types.ConsumedMessage{
		PublishMessage: types.PublishMessage{ID: id, Payload: payload},
		Ack:            s.Ack,
		Nack:           s.Nack,
	}
}

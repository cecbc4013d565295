package subs

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convsync/pkg/models"
	"convsync/pkg/pubsub"
)

func publishMessage(t *testing.T, b *pubsub.Broker, convID, msgID string) {
	t.Helper()
	payload, err := json.Marshal(models.Message{ID: msgID, Conversation: convID, Content: "x"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(pubsub.MessageScope(convID), pubsub.KindRowInserted, payload))
}

type capture struct {
	mu  sync.Mutex
	ids []string
}

func (c *capture) handler(ev pubsub.Event) {
	ins, ok := ev.(pubsub.RowInserted)
	if !ok {
		return
	}
	c.mu.Lock()
	c.ids = append(c.ids, ins.Message.ID)
	c.mu.Unlock()
}

func (c *capture) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestOpenDeliversDecodedEventsInOrder(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	m := NewManager(b)
	defer m.Shutdown()

	cap := &capture{}
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), cap.handler))

	publishMessage(t, b, "c1", "msg-1")
	publishMessage(t, b, "c1", "msg-2")

	require.Eventually(t, func() bool { return len(cap.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"msg-1", "msg-2"}, cap.snapshot())
}

func TestReopenReplacesWithoutDuplicateDelivery(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	m := NewManager(b)
	defer m.Shutdown()

	first := &capture{}
	second := &capture{}
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), first.handler))
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), second.handler))
	assert.Len(t, m.Scopes(), 1)

	publishMessage(t, b, "c1", "msg-1")

	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.snapshot(), "replaced handler must not see events")
}

func TestCloseIsSynchronous(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	m := NewManager(b)
	defer m.Shutdown()

	cap := &capture{}
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), cap.handler))
	m.Close(pubsub.MessageScope("c1"))

	publishMessage(t, b, "c1", "msg-1")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, cap.snapshot())
	assert.Empty(t, m.Scopes())
}

func TestOpenFailsTerminallyWhenTransportUnavailable(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	b.SetAvailable(false)
	m := NewManager(b)
	defer m.Shutdown()

	err := m.Open(pubsub.MessageScope("c1"), func(pubsub.Event) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, pubsub.ErrUnavailable)
	assert.Empty(t, m.Scopes())
}

func TestMalformedPayloadSkippedNotFatal(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	m := NewManager(b)
	defer m.Shutdown()

	cap := &capture{}
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), cap.handler))

	require.NoError(t, b.Publish(pubsub.MessageScope("c1"), pubsub.KindRowInserted, []byte(`{not json`)))
	publishMessage(t, b, "c1", "msg-1")

	require.Eventually(t, func() bool { return len(cap.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"msg-1"}, cap.snapshot())
}

func TestShutdownRejectsFurtherOpens(t *testing.T) {
	b := pubsub.NewBroker(16)
	defer b.Close()
	m := NewManager(b)
	require.NoError(t, m.Open(pubsub.MessageScope("c1"), func(pubsub.Event) {}))

	m.Shutdown()
	assert.Empty(t, m.Scopes())
	assert.Error(t, m.Open(pubsub.MessageScope("c2"), func(pubsub.Event) {}))
}

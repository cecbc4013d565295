package pubsub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convsync/pkg/models"
)

func collect(t *testing.T, st Stream, n int) []Envelope {
	t.Helper()
	out := make([]Envelope, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case it, ok := <-st.Events():
			if !ok {
				t.Fatalf("stream closed after %d of %d events", len(out), n)
			}
			env := it.Env
			env.Payload = append([]byte(nil), env.Payload...)
			it.Done()
			out = append(out, env)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishReachesSubscriberInOrder(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	st, err := b.Subscribe("messages:c1")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"1"}`)))
	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"2"}`)))

	envs := collect(t, st, 2)
	assert.JSONEq(t, `{"id":"1"}`, string(envs[0].Payload))
	assert.JSONEq(t, `{"id":"2"}`, string(envs[1].Payload))
}

func TestScopesAreIsolated(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	st, err := b.Subscribe("typing:c1")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"1"}`)))
	select {
	case <-st.Events():
		t.Fatal("typing subscriber received a messages event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnavailableTransportRefusesTerminally(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	b.SetAvailable(false)

	_, err := b.Subscribe("messages:c1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, b.Publish("messages:c1", KindBroadcast, nil), ErrUnavailable)

	b.SetAvailable(true)
	_, err = b.Subscribe("messages:c1")
	assert.NoError(t, err)
}

func TestClosedStreamStopsDelivery(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	st, err := b.Subscribe("messages:c1")
	require.NoError(t, err)
	st.Close()

	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"1"}`)))
	_, ok := <-st.Events()
	assert.False(t, ok, "closed stream channel must be drained and closed")
}

func TestOverrunDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()
	st, err := b.Subscribe("messages:c1")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"1"}`)))
	require.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"2"}`)))
	assert.EqualValues(t, 1, b.Dropped())
}

func TestOversizedPayloadRejected(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	b.SetMaxPayload(8)
	st, err := b.Subscribe("messages:c1")
	require.NoError(t, err)
	defer st.Close()

	err = b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"msg-123456"}`))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.NoError(t, b.Publish("messages:c1", KindBroadcast, []byte(`{"a":1}`)))

	// Zero returns the broker to unlimited.
	b.SetMaxPayload(0)
	assert.NoError(t, b.Publish("messages:c1", KindRowInserted, []byte(`{"id":"msg-123456"}`)))
}

func TestDecodeMessageEvent(t *testing.T) {
	m := models.Message{ID: "msg-1", Conversation: "c1", Sender: models.SenderUser, Content: "hi", CreatedAt: 100}
	payload, _ := json.Marshal(m)
	at := time.Now()

	ev, err := Decode(Envelope{Scope: MessageScope("c1"), Kind: KindRowInserted, Payload: payload, ReceivedAt: at})
	require.NoError(t, err)
	ins, ok := ev.(RowInserted)
	require.True(t, ok)
	assert.Equal(t, m, ins.Message)
	assert.Equal(t, at, ins.ReceivedAt)

	ev, err = Decode(Envelope{Scope: MessageScope("c1"), Kind: KindRowUpdated, Payload: payload})
	require.NoError(t, err)
	_, ok = ev.(RowUpdated)
	assert.True(t, ok)
}

func TestDecodeBroadcastEvents(t *testing.T) {
	ind := models.TypingIndicator{Conversation: "c1", UserID: "u1", IsTyping: true, UpdatedAt: 5}
	payload, _ := json.Marshal(ind)
	ev, err := Decode(Envelope{Scope: TypingScope("c1"), Kind: KindBroadcast, Payload: payload})
	require.NoError(t, err)
	tc, ok := ev.(TypingChanged)
	require.True(t, ok)
	assert.Equal(t, ind, tc.Indicator)

	rec := models.PresenceRecord{UserID: "u1", Online: true, LastSeen: 9}
	payload, _ = json.Marshal(rec)
	ev, err = Decode(Envelope{Scope: PresenceScope, Kind: KindBroadcast, Payload: payload})
	require.NoError(t, err)
	pc, ok := ev.(PresenceChanged)
	require.True(t, ok)
	assert.Equal(t, rec, pc.Record)

	payload, _ = json.Marshal(ReadReceipt{MessageID: "msg-1", ReadBy: "u2", ReadAt: 7})
	ev, err = Decode(Envelope{Scope: ReadScope("c1"), Kind: KindBroadcast, Payload: payload})
	require.NoError(t, err)
	rr, ok := ev.(ReadReceipt)
	require.True(t, ok)
	assert.Equal(t, "msg-1", rr.MessageID)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	_, err := Decode(Envelope{Scope: MessageScope("c1"), Kind: KindRowInserted, Payload: []byte(`{`)})
	assert.Error(t, err)
	_, err = Decode(Envelope{Scope: MessageScope("c1"), Kind: KindRowInserted, Payload: []byte(`{}`)})
	assert.Error(t, err, "missing id")
	_, err = Decode(Envelope{Scope: "weird:c1", Kind: KindBroadcast, Payload: []byte(`{}`)})
	assert.Error(t, err)
}

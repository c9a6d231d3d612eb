package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

// fakeChannel acks (or nacks) every publish on the confirms channel.
type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	confirms  chan amqp.Confirmation
	nack      bool
	silent    bool
	failWith  error
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{confirms: make(chan amqp.Confirmation, 16)}
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	if !f.silent {
		f.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: !f.nack}
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestAMQP_EmitPublishesConfirmed(t *testing.T) {
	ch := newFakeChannel()
	pub := newAMQP(ch, ch.confirms, nil, "modrelay.events", nil)

	ev := Event{Type: TypeApproved, SubmissionID: "01X", SubmitterID: 5, Items: 2, Time: time.Unix(100, 0).UTC()}
	require.NoError(t, pub.Emit(context.Background(), ev))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	require.Equal(t, TypeApproved, ch.keys[0], "routed by event type")
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "01X", msg.CorrelationId)
	require.Len(t, msg.MessageId, 36, "uuid message id")

	var got Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	require.Equal(t, ev, got)
}

func TestAMQP_UniqueMessageIDs(t *testing.T) {
	ch := newFakeChannel()
	pub := newAMQP(ch, ch.confirms, nil, "x", nil)

	for range 3 {
		require.NoError(t, pub.Emit(context.Background(), Event{Type: TypeReceived}))
	}
	seen := map[string]bool{}
	for _, m := range ch.published {
		require.False(t, seen[m.MessageId])
		seen[m.MessageId] = true
	}
}

func TestAMQP_Nack(t *testing.T) {
	ch := newFakeChannel()
	ch.nack = true
	pub := newAMQP(ch, ch.confirms, nil, "x", nil)

	err := pub.Emit(context.Background(), Event{Type: TypeRejected})
	require.ErrorContains(t, err, "nacked")
}

func TestAMQP_PublishError(t *testing.T) {
	ch := newFakeChannel()
	ch.failWith = errors.New("channel closed")
	pub := newAMQP(ch, ch.confirms, nil, "x", nil)

	require.ErrorContains(t, pub.Emit(context.Background(), Event{Type: TypeRejected}), "channel closed")
}

func TestAMQP_CancelledWaitThenStaleConfirmSkipped(t *testing.T) {
	ch := newFakeChannel()
	ch.silent = true
	pub := newAMQP(ch, ch.confirms, nil, "x", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.Emit(ctx, Event{Type: TypeReceived}), context.Canceled)

	// the late ack for message 1 must not satisfy message 2
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	ch.confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
	require.ErrorContains(t, pub.Emit(context.Background(), Event{Type: TypeReceived}), "nacked")
}

func TestAMQP_Close(t *testing.T) {
	ch := newFakeChannel()
	pub := newAMQP(ch, ch.confirms, nil, "x", nil)
	require.NoError(t, pub.Close())
	require.True(t, ch.closed)
}

type failingSink struct{ Nop }

func (failingSink) Emit(context.Context, Event) error { return errors.New("down") }

func TestEmit(t *testing.T) {
	var m Memory
	Emit(context.Background(), &m, nil, Event{Type: TypeDirect})
	evs := m.Events()
	require.Len(t, evs, 1)
	require.False(t, evs[0].Time.IsZero(), "time is stamped")
	require.Equal(t, []string{TypeDirect}, m.Types())

	// failures and nil sinks are swallowed
	Emit(context.Background(), failingSink{}, nil, Event{Type: TypeDirect})
	Emit(context.Background(), nil, nil, Event{Type: TypeDirect})
}

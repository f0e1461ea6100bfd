package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SendNotVisibleUntilCommit(t *testing.T) {
	b := New()
	ctx := context.Background()

	producer, err := b.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, "q1", []byte("hello"), nil))

	consumer, err := b.NewSession(ctx)
	require.NoError(t, err)
	msg, err := consumer.Receive(ctx, "q1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg, "uncommitted send must not be visible to other sessions")

	require.NoError(t, producer.Commit(ctx))

	msg, err = consumer.Receive(ctx, "q1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", string(msg.Body))
}

func TestSession_RollbackRedeliversReceivedMessage(t *testing.T) {
	b := New()
	ctx := context.Background()

	producer, err := b.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, "q1", []byte("payload"), nil))
	require.NoError(t, producer.Commit(ctx))

	consumer, err := b.NewSession(ctx)
	require.NoError(t, err)
	msg, err := consumer.Receive(ctx, "q1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.NoError(t, consumer.Rollback(ctx))

	redelivered, err := consumer.Receive(ctx, "q1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "payload", string(redelivered.Body))
}

func TestSession_Receive_TimesOutOnEmptyQueue(t *testing.T) {
	b := New()
	ctx := context.Background()
	consumer, err := b.NewSession(ctx)
	require.NoError(t, err)

	start := time.Now()
	msg, err := consumer.Receive(ctx, "empty", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSession_RollbackWithNoReceives_DiscardsPendingSends(t *testing.T) {
	b := New()
	ctx := context.Background()

	producer, err := b.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, "q1", []byte("abandoned"), nil))
	require.NoError(t, producer.Rollback(ctx))
	require.NoError(t, producer.Commit(ctx))

	consumer, err := b.NewSession(ctx)
	require.NoError(t, err)
	msg, err := consumer.Receive(ctx, "q1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg, "a send made before rollback must never become visible")
}

func TestSession_ConcurrentReceive_WakesOnPush(t *testing.T) {
	b := New()
	ctx := context.Background()
	consumer, err := b.NewSession(ctx)
	require.NoError(t, err)

	done := make(chan *struct{ body string }, 1)
	go func() {
		msg, err := consumer.Receive(ctx, "q1", 2*time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		done <- &struct{ body string }{body: string(msg.Body)}
	}()

	time.Sleep(20 * time.Millisecond)
	producer, err := b.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, producer.Send(ctx, "q1", []byte("woken"), nil))
	require.NoError(t, producer.Commit(ctx))

	select {
	case r := <-done:
		assert.Equal(t, "woken", r.body)
	case <-time.After(3 * time.Second):
		t.Fatal("receiver was never woken by the push")
	}
}

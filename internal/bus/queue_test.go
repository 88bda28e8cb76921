package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exception"
)

func TestQueueBounded(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), exception.ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())

	var got []int
	assert.Equal(t, 2, q.Drain(0, func(v int) { got = append(got, v) }))
	assert.Equal(t, []int{1, 2}, got)

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	q.Close()
	assert.ErrorIs(t, q.TryPublish("b"), exception.ErrQueueClosed)

	done := make(chan struct{})
	var got []string
	go func() {
		q.Run(context.Background(), func(v string) { got = append(got, v) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestQueuePublishWaitsForRoom(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Publish(context.Background(), 1))

	done := make(chan error, 1)
	go func() { done <- q.Publish(context.Background(), 2) }()

	select {
	case <-done:
		t.Fatal("Publish returned on a full queue")
	case <-time.After(20 * time.Millisecond):
	}
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	require.NoError(t, <-done)
	v, _ = q.TryPop()
	assert.Equal(t, 2, v)
	assert.Zero(t, q.Dropped())
}

func TestQueuePublishGivesUp(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, 2), context.DeadlineExceeded)
	assert.Equal(t, uint64(1), q.Dropped())

	done := make(chan error, 1)
	go func() { done <- q.Publish(context.Background(), 3) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	assert.ErrorIs(t, <-done, exception.ErrQueueClosed)
}

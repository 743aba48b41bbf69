package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{}, 3)

	q := NewQueue("mail", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.Payload.(string)] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for _, payload := range []string{"a", "b", "c"} {
		id, err := q.Enqueue(context.Background(), Job{Type: "test", Payload: payload})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}

func TestQueueRetriesFailedJob(t *testing.T) {
	var calls int32
	done := make(chan struct{})

	q := NewQueue("mail", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("smtp down")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(context.Background(), Job{Type: "test"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueRejectsWhenNotRunning(t *testing.T) {
	q := NewQueue("mail", func(context.Context, Job) error { return nil }, QueueConfig{})
	_, err := q.TryEnqueue(Job{Type: "test"})
	require.Error(t, err)

	q.Start(context.Background())
	q.Stop()
	_, err = q.Enqueue(context.Background(), Job{Type: "test"})
	require.Error(t, err)
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	release := make(chan struct{})
	var processed int32

	q := NewQueue("mail", func(ctx context.Context, job Job) error {
		<-release
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())

	for i := 0; i < 3; i++ {
		_, err := q.TryEnqueue(Job{Type: "test"})
		require.NoError(t, err)
	}
	close(release)
	q.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&processed))
}

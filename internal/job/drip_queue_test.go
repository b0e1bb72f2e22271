package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/token-faucet/internal/adapter"
)

const (
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	addrC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func newTestQueue(t *testing.T) (*DripQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDripQueue(NewRedisBackend(client, "test")), mr, client
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDripQueue_FIFO(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := testContext(t)

	for i, addr := range []string{addrA, addrB, addrC} {
		_, err := q.Enqueue(ctx, []string{"r1", "r2", "r3"}[i], addr)
		require.NoError(t, err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		job, err := q.Claim(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.Address)
		q.Complete(ctx, job, Outcome{})
	}
	assert.Equal(t, []string{addrA, addrB, addrC}, order)

	job, err := q.Claim(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue yields no job")
}

func TestDripQueue_AwaitAfterCompletion(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := testContext(t)

	handle, err := q.Enqueue(ctx, "req-1", addrA)
	require.NoError(t, err)

	job, err := q.Claim(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, handle.JobID, job.JobID)
	assert.Equal(t, "req-1", job.RequestID)

	want := &adapter.Transfer{Hash: "0xabc", To: addrA, Nonce: 3}
	q.Complete(ctx, job, Outcome{Transfer: want})

	// the worker finished before anyone waited
	got, err := q.Await(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, q.Waiting())
}

func TestDripQueue_AwaitDeliversFailure(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := testContext(t)

	handle, err := q.Enqueue(ctx, "req-1", addrA)
	require.NoError(t, err)

	boom := errors.New("boom")
	go func() {
		job, err := q.Claim(ctx, time.Second)
		if err != nil || job == nil {
			return
		}
		q.Complete(ctx, job, Outcome{Err: boom})
	}()

	_, err = q.Await(ctx, handle)
	assert.ErrorIs(t, err, boom)
}

func TestDripQueue_AwaitOnlySeesOwnJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := testContext(t)

	first, err := q.Enqueue(ctx, "req-1", addrA)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "req-2", addrB)
	require.NoError(t, err)

	for _, hash := range []string{"0x01", "0x02"} {
		job, err := q.Claim(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		q.Complete(ctx, job, Outcome{Transfer: &adapter.Transfer{Hash: hash, To: job.Address}})
	}

	got, err := q.Await(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "0x02", got.Hash)
	assert.Equal(t, addrB, got.To)

	got, err = q.Await(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "0x01", got.Hash)
}

func TestDripQueue_AwaitDeadlineDoesNotAffectJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := testContext(t)

	handle, err := q.Enqueue(ctx, "req-1", addrA)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Await(short, handle)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	job, err := q.Claim(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job, "job is still queued after the caller gave up")

	done := make(chan struct{})
	go func() {
		q.Complete(ctx, job, Outcome{Transfer: &adapter.Transfer{Hash: "0xlate"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Complete blocked on an abandoned waiter")
	}
}

func TestDripQueue_StatsAndOrphans(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := testContext(t)

	_, err := q.Enqueue(ctx, "req-1", addrA)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "req-2", addrB)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Pending: 2, Processing: 0}, stats)

	claimed, err := q.Claim(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Pending: 1, Processing: 1}, stats)

	// a new process over the same backend finds the unacknowledged claim
	restarted := NewDripQueue(NewRedisBackend(client, "test"))
	orphans, err := restarted.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, claimed.JobID, orphans[0].JobID)

	restarted.Complete(ctx, orphans[0], Outcome{})
	orphans, err = restarted.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestDripQueue_MalformedPayloadIsDropped(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := testContext(t)

	_, err := mr.Lpush("faucet:test:pending", "not json")
	require.NoError(t, err)

	job, err := q.Claim(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestDripQueue_EnqueueBackendFailure(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	mr.Close()

	_, err := q.Enqueue(context.Background(), "req-1", addrA)
	require.Error(t, err)
	assert.Equal(t, 0, q.Waiting(), "no waiter left behind")
}

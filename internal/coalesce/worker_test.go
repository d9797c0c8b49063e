package coalesce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorker_BoundsConcurrency ports coalescing_worker.rs's test1: six
// distinct keys, concurrency 3, work function fails if more than
// `concurrency` calls are ever running at once.
func TestWorker_BoundsConcurrency(t *testing.T) {
	const concurrency = 3
	var current int32
	var maxSeen int32

	work := func(ctx context.Context, key string) (string, error) {
		n := atomic.AddInt32(&current, 1)
		defer atomic.AddInt32(&current, -1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		if n > concurrency {
			return "", fmt.Errorf("exceeded concurrency: %d running", n)
		}
		time.Sleep(30 * time.Millisecond)
		return "sink-" + key, nil
	}

	w := New(concurrency, work)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.Do(context.Background(), fmt.Sprintf("%d", i+1))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, int(maxSeen), concurrency)
}

// TestWorker_CoalescesIdenticalKeys ports test_collate: four calls
// referencing only two distinct keys ("1" three times, "6" once) must
// result in the work function running at most twice.
func TestWorker_CoalescesIdenticalKeys(t *testing.T) {
	var runs int32

	work := func(ctx context.Context, key string) (string, error) {
		atomic.AddInt32(&runs, 1)
		time.Sleep(30 * time.Millisecond)
		return "sink-" + key, nil
	}

	w := New(3, work)

	keys := []string{"1", "1", "1", "6"}
	var wg sync.WaitGroup
	results := make([]string, len(keys))
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k string) {
			defer wg.Done()
			v, err := w.Do(context.Background(), k)
			require.NoError(t, err)
			results[i] = v
		}(i, k)
	}
	wg.Wait()

	for i := range keys {
		assert.Equal(t, "sink-"+keys[i], results[i])
	}
	assert.LessOrEqual(t, int(runs), 2)
}

func TestWorker_ContextCancellationUnblocksWaiter(t *testing.T) {
	release := make(chan struct{})
	work := func(ctx context.Context, key string) (string, error) {
		<-release
		return "done", nil
	}
	w := New(1, work)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.Do(ctx, "k")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	close(release)
}

func TestWorker_SequentialCallsForSameKeyBothSucceed(t *testing.T) {
	var runs int32
	work := func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 42, nil
	}
	w := New(2, work)

	v1, err := w.Do(context.Background(), "k")
	require.NoError(t, err)
	v2, err := w.Do(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 42, v1)
	assert.Equal(t, 42, v2)
	assert.Equal(t, int32(2), runs)
}

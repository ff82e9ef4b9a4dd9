package lockpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New()
	ctx := context.Background()

	release, err := p.Acquire(ctx, "sku-a")
	require.NoError(t, err)

	// Held: a second acquire must time out.
	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(timed, "sku-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release2, err := p.Acquire(ctx, "sku-a")
	require.NoError(t, err)
	release2()
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New()
	ctx := context.Background()

	release, err := p.Acquire(ctx, "sku-a")
	require.NoError(t, err)
	release()
	release() // second call must not double-release

	release2, err := p.Acquire(ctx, "sku-a")
	require.NoError(t, err)
	release2()

	// Still exactly one slot.
	release3, err := p.Acquire(ctx, "sku-a")
	require.NoError(t, err)
	defer release3()

	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(timed, "sku-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	p := New()
	ctx := context.Background()

	// Hold sku-b so the batch acquisition fails partway through.
	releaseB, err := p.Acquire(ctx, "sku-b")
	require.NoError(t, err)

	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.AcquireAll(timed, []string{"sku-c", "sku-a", "sku-b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// sku-a and sku-c must have been released again.
	release, err := p.AcquireAll(ctx, []string{"sku-a", "sku-c"})
	require.NoError(t, err)
	release()

	releaseB()
}

func TestAcquireAllNoDeadlockOnOverlap(t *testing.T) {
	p := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Two batches naming the same keys in opposite orders must never
	// deadlock because acquisition is always sorted.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := p.AcquireAll(ctx, []string{"sku-a", "sku-b"})
			if assert.NoError(t, err) {
				release()
			}
		}()
		go func() {
			defer wg.Done()
			release, err := p.AcquireAll(ctx, []string{"sku-b", "sku-a"})
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}

func TestAcquireAllMutualExclusion(t *testing.T) {
	p := New()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.AcquireAll(ctx, []string{"sku-a", "sku-b"})
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
}

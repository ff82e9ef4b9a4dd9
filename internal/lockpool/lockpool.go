package lockpool

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a process-wide table of SKU-scoped locks. Each key maps to a
// weighted semaphore of capacity one, so acquisition can be bounded by a
// context deadline. AcquireAll takes keys in sorted order, which is the sole
// deadlock-avoidance mechanism between batches sharing SKUs.
type Pool struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// New creates an empty lock pool
func New() *Pool {
	return &Pool{locks: make(map[string]*semaphore.Weighted)}
}

func (p *Pool) get(key string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	sem, ok := p.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		p.locks[key] = sem
	}
	return sem
}

// Acquire blocks until the key's lock is held or ctx ends. On success the
// returned release function must be called exactly once.
func (p *Pool) Acquire(ctx context.Context, key string) (release func(), err error) {
	sem := p.get(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// AcquireAll acquires every key in ascending order. Either all locks are
// held and a single release function is returned, or none are held and the
// acquisition error is returned.
func (p *Pool) AcquireAll(ctx context.Context, keys []string) (release func(), err error) {
	ordered := make([]string, len(keys))
	copy(ordered, keys)
	sort.Strings(ordered)

	releases := make([]func(), 0, len(ordered))
	releaseAll := func() {
		// Unlock in reverse acquisition order.
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range ordered {
		rel, err := p.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}

	var once sync.Once
	return func() {
		once.Do(releaseAll)
	}, nil
}

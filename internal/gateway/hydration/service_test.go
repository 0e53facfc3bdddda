package hydration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type slowRepo struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (r *slowRepo) Snapshot(context.Context) (events.Hydration, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return events.Hydration{}, r.err
	}
	return events.Hydration{Entities: []events.Entity{{EntityID: "ev1"}}}, nil
}

// gatedRepo segura o Snapshot até o teste liberar
type gatedRepo struct {
	calls   atomic.Int32
	arrived chan struct{}
	release chan struct{}
}

func (r *gatedRepo) Snapshot(ctx context.Context) (events.Hydration, error) {
	r.calls.Add(1)
	r.arrived <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return events.Hydration{}, ctx.Err()
	}
	return events.Hydration{Entities: []events.Entity{{EntityID: "ev1"}}}, nil
}

type memCache struct {
	mu  sync.Mutex
	h   *events.Hydration
	ttl time.Duration
	err error
}

func (c *memCache) GetHydration(context.Context) (events.Hydration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || c.h == nil {
		return events.Hydration{}, false, c.err
	}
	return *c.h, true, nil
}

func (c *memCache) SetHydration(_ context.Context, h events.Hydration, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h, c.ttl = &h, ttl
	return c.err
}

func TestHydrate_CachesSnapshot(t *testing.T) {
	repo, c := &slowRepo{}, &memCache{}
	var sources []string
	s := &Service{Repo: repo, Cache: c, TTL: 2 * time.Second, Log: zap.NewNop(),
		OnServed: func(src string) { sources = append(sources, src) }}

	h1, err := s.Hydrate(context.Background())
	require.NoError(t, err)
	h2, err := s.Hydrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, int32(1), repo.calls.Load())
	assert.Equal(t, 2*time.Second, c.ttl)
	assert.Equal(t, []string{"db", "cache"}, sources)
}

func TestHydrate_ConcurrentMissesShareOneRead(t *testing.T) {
	repo := &slowRepo{delay: 50 * time.Millisecond}
	s := &Service{Repo: repo, Log: zap.NewNop()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Hydrate(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, repo.calls.Load(), int32(8))
}

func TestHydrate_CacheFailureFallsBackToDB(t *testing.T) {
	repo := &slowRepo{}
	s := &Service{Repo: repo, Cache: &memCache{err: errors.New("redis down")}, TTL: time.Second, Log: zap.NewNop()}

	h, err := s.Hydrate(context.Background())

	require.NoError(t, err)
	assert.Len(t, h.Entities, 1)
}

func TestHydrate_DBFailure(t *testing.T) {
	s := &Service{Repo: &slowRepo{err: errors.New("db down")}, Log: zap.NewNop()}

	_, err := s.Hydrate(context.Background())
	assert.Error(t, err)
}

func TestHydrate_SharedReadSurvivesFirstClientDrop(t *testing.T) {
	repo := &gatedRepo{arrived: make(chan struct{}, 1), release: make(chan struct{})}
	s := &Service{Repo: repo, Log: zap.NewNop()}

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Hydrate(ctx1)
		first <- err
	}()
	<-repo.arrived

	type result struct {
		h   events.Hydration
		err error
	}
	second := make(chan result, 1)
	go func() {
		h, err := s.Hydrate(context.Background())
		second <- result{h, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel1()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(repo.release)
	r := <-second
	require.NoError(t, r.err)
	assert.Len(t, r.h.Entities, 1)
	assert.Equal(t, int32(1), repo.calls.Load())
}

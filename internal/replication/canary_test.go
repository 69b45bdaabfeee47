package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory CanaryStore; replicateTo mirrors writes into a
// peer store after an artificial delay.
type memStore struct {
	mu    sync.Mutex
	data  map[string]string
	peer  *memStore
	delay time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) replicateTo(peer *memStore, delay time.Duration) {
	s.peer = peer
	s.delay = delay
}

func (s *memStore) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	peer := s.peer
	delay := s.delay
	s.mu.Unlock()

	if peer != nil {
		time.AfterFunc(delay, func() {
			peer.mu.Lock()
			peer.data[key] = value
			peer.mu.Unlock()
		})
	}
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", errors.New("key not found")
	}
	return v, nil
}

func TestCanaryLagMeasuresReplicationDelay(t *testing.T) {
	source := newMemStore()
	target := newMemStore()
	source.replicateTo(target, 30*time.Millisecond)

	c, err := NewCanaryLag(source, target, "lag-canary", zap.NewNop())
	require.NoError(t, err)
	c.pollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lag, err := c.MeasureLag(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lag, time.Duration(0))
	assert.Less(t, lag, time.Second)
}

func TestCanaryLagTimesOutWhenNotReplicating(t *testing.T) {
	source := newMemStore()
	target := newMemStore() // never receives the canary

	c, err := NewCanaryLag(source, target, "lag-canary", zap.NewNop())
	require.NoError(t, err)
	c.pollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.MeasureLag(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCanaryLagSeesOnlyItsOwnToken(t *testing.T) {
	source := newMemStore()
	target := newMemStore()

	// Stale token from an earlier round must not satisfy the read-after.
	require.NoError(t, target.Put(context.Background(), "lag-canary", "stale"))

	c, err := NewCanaryLag(source, target, "lag-canary", zap.NewNop())
	require.NoError(t, err)
	c.pollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.MeasureLag(ctx)
	require.Error(t, err)
}

func TestNewCanaryLagValidation(t *testing.T) {
	_, err := NewCanaryLag(nil, newMemStore(), "", zap.NewNop())
	require.Error(t, err)

	c, err := NewCanaryLag(newMemStore(), newMemStore(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "meridian/lag-canary", c.key)
}

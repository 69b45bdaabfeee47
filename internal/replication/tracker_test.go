package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lagSink struct {
	mu      sync.Mutex
	updates []failover.LagUpdate
}

func (s *lagSink) SubmitLag(u failover.LagUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *lagSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *lagSink) first() failover.LagUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[0]
}

func (s *lagSink) last() failover.LagUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[len(s.updates)-1]
}

type stubMeasurer struct {
	mu    sync.Mutex
	lag   time.Duration
	errs  int // errors to return before succeeding
	calls int
}

func (m *stubMeasurer) MeasureLag(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.errs > 0 {
		m.errs--
		return 0, errors.New("replica connection reset")
	}
	return m.lag, nil
}

func fastConfig() Config {
	return Config{
		Interval:       10 * time.Millisecond,
		MeasureTimeout: 100 * time.Millisecond,
		Retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	}
}

func TestTrackerReportsLag(t *testing.T) {
	sink := &lagSink{}
	measurer := &stubMeasurer{lag: 42 * time.Second}

	tr, err := NewTracker(fastConfig(), []Channel{
		{ID: "orders-pg", Kind: failover.StoreRelational, Measurer: measurer},
	}, sink, zap.NewNop())
	require.NoError(t, err)

	tr.Start(context.Background())
	defer tr.Stop()

	require.Eventually(t, func() bool { return sink.len() >= 2 }, 3*time.Second, 5*time.Millisecond)

	last := sink.last()
	assert.Equal(t, "orders-pg", last.ChannelID)
	assert.Equal(t, 42*time.Second, last.Lag)
	assert.True(t, last.Known)
}

func TestTrackerRetriesTransientFailures(t *testing.T) {
	sink := &lagSink{}
	measurer := &stubMeasurer{lag: time.Second, errs: 2} // fails twice, third attempt succeeds

	tr, err := NewTracker(fastConfig(), []Channel{
		{ID: "orders-pg", Kind: failover.StoreRelational, Measurer: measurer},
	}, sink, zap.NewNop())
	require.NoError(t, err)

	tr.Start(context.Background())
	defer tr.Stop()

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, sink.first().Known, "retries exhausted the transient errors")
}

func TestTrackerReportsUnknownAfterExhaustion(t *testing.T) {
	sink := &lagSink{}
	measurer := &stubMeasurer{errs: 1000} // never recovers

	tr, err := NewTracker(fastConfig(), []Channel{
		{ID: "sessions-kv", Kind: failover.StoreKV, Measurer: measurer},
	}, sink, zap.NewNop())
	require.NoError(t, err)

	tr.Start(context.Background())
	defer tr.Stop()

	require.Eventually(t, func() bool { return sink.len() >= 1 }, 3*time.Second, 5*time.Millisecond)
	last := sink.last()
	assert.False(t, last.Known, "UNKNOWN, not zero lag")
	assert.Equal(t, time.Duration(0), last.Lag)

	measurer.mu.Lock()
	calls := measurer.calls
	measurer.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3, "full retry budget spent before reporting unknown")
}

func TestNewTrackerValidation(t *testing.T) {
	sink := &lagSink{}

	_, err := NewTracker(Config{}, nil, sink, zap.NewNop())
	require.Error(t, err, "zero interval")

	_, err = NewTracker(fastConfig(), []Channel{{ID: "x"}}, sink, zap.NewNop())
	require.Error(t, err, "missing measurer")

	_, err = NewTracker(fastConfig(), nil, nil, zap.NewNop())
	require.Error(t, err, "missing sink")
}

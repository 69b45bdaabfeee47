package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/retry"
	"go.uber.org/zap"
)

// Measurer reads replication lag for one channel using a store-appropriate
// method. Returns an error when the measurement itself failed; the tracker
// reports such channels as unknown, never as "lag is fine".
type Measurer interface {
	MeasureLag(ctx context.Context) (time.Duration, error)
}

// Sink receives lag observations
type Sink interface {
	SubmitLag(failover.LagUpdate)
}

// Metrics receives per-channel lag gauges
type Metrics interface {
	LagObserved(channelID string, lag time.Duration, known bool)
}

// Channel pairs a replication channel with its measurer
type Channel struct {
	ID       string
	Kind     failover.StoreKind
	Measurer Measurer
}

// Config tunes the tracker
type Config struct {
	Interval       time.Duration
	MeasureTimeout time.Duration
	Retry          retry.Policy
}

// DefaultConfig returns the standard measurement cadence: transient
// failures are retried 3 times with exponential backoff (base 1s,
// factor 2) before the channel is reported unknown.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		MeasureTimeout: 10 * time.Second,
		Retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		},
	}
}

// Tracker measures lag for every channel on a fixed interval
type Tracker struct {
	cfg      Config
	channels []Channel
	sink     Sink
	logger   *zap.Logger
	metrics  Metrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates a lag tracker
func NewTracker(cfg Config, channels []Channel, sink Sink, logger *zap.Logger) (*Tracker, error) {
	if cfg.Interval <= 0 || cfg.MeasureTimeout <= 0 {
		return nil, fmt.Errorf("replication: interval and timeout must be positive")
	}
	if sink == nil {
		return nil, fmt.Errorf("replication: sink required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, ch := range channels {
		if ch.ID == "" || ch.Measurer == nil {
			return nil, fmt.Errorf("replication: channel id and measurer required")
		}
	}

	return &Tracker{
		cfg:      cfg,
		channels: channels,
		sink:     sink,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// SetMetrics sets the metrics sink
func (t *Tracker) SetMetrics(m Metrics) { t.metrics = m }

// Start launches one measurement loop per channel
func (t *Tracker) Start(ctx context.Context) {
	for _, ch := range t.channels {
		t.wg.Add(1)
		go t.measureLoop(ctx, ch)
	}
}

// Stop halts all measurement loops
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Tracker) measureLoop(ctx context.Context, ch Channel) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.measureOnce(ctx, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.measureOnce(ctx, ch)
		}
	}
}

func (t *Tracker) measureOnce(ctx context.Context, ch Channel) {
	var lag time.Duration
	err := t.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		mctx, cancel := context.WithTimeout(ctx, t.cfg.MeasureTimeout)
		defer cancel()

		measured, err := ch.Measurer.MeasureLag(mctx)
		if err != nil {
			return err
		}
		lag = measured
		return nil
	})

	known := err == nil
	if err != nil {
		t.logger.Warn("lag measurement failed, reporting unknown",
			zap.String("channel", ch.ID),
			zap.String("kind", string(ch.Kind)),
			zap.Error(err))
	}
	if t.metrics != nil {
		t.metrics.LagObserved(ch.ID, lag, known)
	}

	t.sink.SubmitLag(failover.LagUpdate{
		ChannelID: ch.ID,
		Lag:       lag,
		Known:     known,
		Timestamp: time.Now().UTC(),
	})
}

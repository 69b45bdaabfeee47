package replication

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CanaryStore is the minimal surface a key/value store must expose for
// canary-based lag measurement. The production implementation wraps the
// global table's client; tests use an in-memory pair.
type CanaryStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}

// CanaryLag measures key/value replication lag with a canary write on the
// source side and a cross-region read-after on the target side: write a
// unique token, poll the target until it appears, report the elapsed time.
// The measurement context bounds how long a round may poll.
type CanaryLag struct {
	source    CanaryStore
	target    CanaryStore
	key       string
	pollEvery time.Duration
	logger    *zap.Logger
}

// NewCanaryLag creates a canary measurer writing under the given key
func NewCanaryLag(source, target CanaryStore, key string, logger *zap.Logger) (*CanaryLag, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("replication: canary source and target stores required")
	}
	if key == "" {
		key = "meridian/lag-canary"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CanaryLag{
		source:    source,
		target:    target,
		key:       key,
		pollEvery: 250 * time.Millisecond,
		logger:    logger,
	}, nil
}

// MeasureLag writes a canary token and waits for it to replicate
func (c *CanaryLag) MeasureLag(ctx context.Context) (time.Duration, error) {
	token := time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.source.Put(ctx, c.key, token); err != nil {
		return 0, fmt.Errorf("write canary: %w", err)
	}
	start := time.Now()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		got, err := c.target.Get(ctx, c.key)
		if err == nil && got == token {
			return time.Since(start), nil
		}
		if err != nil {
			c.logger.Debug("canary read-after not yet visible", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("canary did not replicate in time: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

package traffic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/retry"
	"go.uber.org/zap"
)

// Provider reads and writes the weighted routing records for the region
// set. Implementations talk to the DNS/traffic backend; weights are
// percentages summing to 100 across regions.
type Provider interface {
	Weights(ctx context.Context) (map[string]int, error)
	SetWeights(ctx context.Context, weights map[string]int) error
}

// Controller moves all routing weight to one region. Safe to call with
// partial prior state: redirecting to a region that already holds all the
// weight converges without issuing a write.
type Controller struct {
	provider Provider
	regions  []string
	retry    retry.Policy
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewController creates a traffic controller over the given region set
func NewController(provider Provider, regions []string, logger *zap.Logger) (*Controller, error) {
	if provider == nil {
		return nil, fmt.Errorf("traffic: provider required")
	}
	if len(regions) < 2 {
		return nil, fmt.Errorf("traffic: at least two regions required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		provider: provider,
		regions:  regions,
		retry: retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
		},
		logger: logger,
	}, nil
}

// Redirect atomically moves 100% of traffic weight to target. Failure
// after the retry budget is surfaced so the caller can abort its
// transition instead of leaving mixed routing silently.
func (c *Controller) Redirect(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.knownRegion(target) {
		return fmt.Errorf("traffic: unknown region %q", target)
	}

	desired := make(map[string]int, len(c.regions))
	for _, r := range c.regions {
		if r == target {
			desired[r] = 100
		} else {
			desired[r] = 0
		}
	}

	current, err := c.provider.Weights(ctx)
	if err == nil && weightsEqual(current, desired) {
		c.logger.Debug("routing already converged", zap.String("target", target))
		return nil
	}

	err = c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.provider.SetWeights(ctx, desired); err != nil {
			return fmt.Errorf("set weights: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("traffic: redirect to %s failed: %w", target, err)
	}

	c.logger.Info("traffic redirected", zap.String("target", target))
	return nil
}

func (c *Controller) knownRegion(id string) bool {
	for _, r := range c.regions {
		if r == id {
			return true
		}
	}
	return false
}

func weightsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

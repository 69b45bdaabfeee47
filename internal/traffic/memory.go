package traffic

import (
	"context"
	"errors"
	"sync"
)

// MemoryProvider is an in-process weighted-routing table. Used in tests
// and for dry-run deployments where no DNS backend is wired.
type MemoryProvider struct {
	mu       sync.Mutex
	weights  map[string]int
	failures int // SetWeights calls that fail before succeeding
	setCalls int
}

// NewMemoryProvider starts with all weight on the given region
func NewMemoryProvider(active string, regions []string) *MemoryProvider {
	weights := make(map[string]int, len(regions))
	for _, r := range regions {
		if r == active {
			weights[r] = 100
		} else {
			weights[r] = 0
		}
	}
	return &MemoryProvider{weights: weights}
}

// FailNext makes the next n SetWeights calls fail
func (p *MemoryProvider) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// SetCalls reports how many SetWeights calls were attempted
func (p *MemoryProvider) SetCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCalls
}

// Weights returns a copy of the current table
func (p *MemoryProvider) Weights(ctx context.Context) (map[string]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out, nil
}

// SetWeights replaces the table atomically
func (p *MemoryProvider) SetWeights(ctx context.Context, weights map[string]int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setCalls++
	if p.failures > 0 {
		p.failures--
		return errors.New("traffic: injected set-weights failure")
	}

	p.weights = make(map[string]int, len(weights))
	for k, v := range weights {
		p.weights[k] = v
	}
	return nil
}

package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"go.uber.org/zap"
)

// Sink receives health observations. The coordinator's implementation is
// non-blocking; the monitor never waits on downstream processing.
type Sink interface {
	SubmitHealth(failover.HealthUpdate)
}

// Metrics receives probe outcomes
type Metrics interface {
	ProbeObserved(regionID string, success bool, latency time.Duration)
}

// Target is one region to probe
type Target struct {
	RegionID string
	Endpoint string
}

// Config tunes the monitor
type Config struct {
	Interval      time.Duration // probe cadence per region
	Timeout       time.Duration // per-probe timeout
	WindowSize    int           // K: results kept per region
	DownThreshold int           // N: consecutive failures before believed DOWN
}

// DefaultConfig returns the standard probe cadence
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		Timeout:       5 * time.Second,
		WindowSize:    5,
		DownThreshold: 3,
	}
}

// Validate checks configuration
func (c Config) Validate() error {
	if c.Interval <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("health: interval and timeout must be positive")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("health: window size must be positive")
	}
	if c.DownThreshold <= 0 || c.DownThreshold > c.WindowSize {
		return fmt.Errorf("health: down threshold must be in 1..window size")
	}
	return nil
}

// ProbeFunc checks one region's reachability
type ProbeFunc func(ctx context.Context) error

// Monitor probes each configured region on a fixed interval and reports
// debounced beliefs to the sink. Raw results are never acted on directly:
// a region is believed DOWN only after the last N results are failures,
// and believed UP again only after the last N are successes.
type Monitor struct {
	cfg     Config
	targets []Target
	sink    Sink
	logger  *zap.Logger
	metrics Metrics
	client  *http.Client
	probes  map[string]ProbeFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for the given regions
func NewMonitor(cfg Config, targets []Target, sink Sink, logger *zap.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("health: sink required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("health: at least one target required")
	}

	return &Monitor{
		cfg:     cfg,
		targets: targets,
		sink:    sink,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.Timeout},
		probes:  make(map[string]ProbeFunc),
		stopCh:  make(chan struct{}),
	}, nil
}

// SetMetrics sets the metrics sink
func (m *Monitor) SetMetrics(metrics Metrics) { m.metrics = metrics }

// SetProbe overrides the HTTP probe for one region (used for connectivity
// checks that are not plain HTTP)
func (m *Monitor) SetProbe(regionID string, probe ProbeFunc) {
	m.probes[regionID] = probe
}

// Start launches one probe loop per region
func (m *Monitor) Start(ctx context.Context) {
	for _, t := range m.targets {
		m.wg.Add(1)
		go m.probeLoop(ctx, t)
	}
}

// Stop halts all probe loops
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context, t Target) {
	defer m.wg.Done()

	win := newWindow(m.cfg.WindowSize, m.cfg.DownThreshold)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.probeOnce(ctx, t, win)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeOnce(ctx, t, win)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, t Target, win *window) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := m.probe(t)(pctx)
	latency := time.Since(start)
	success := err == nil

	if err != nil {
		m.logger.Debug("probe failed",
			zap.String("region", t.RegionID),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	if m.metrics != nil {
		m.metrics.ProbeObserved(t.RegionID, success, latency)
	}

	win.add(success)
	m.sink.SubmitHealth(failover.HealthUpdate{
		RegionID:  t.RegionID,
		Timestamp: time.Now().UTC(),
		Success:   success,
		Latency:   latency,
		Believed:  win.believed(),
	})
}

func (m *Monitor) probe(t Target) ProbeFunc {
	if p, ok := m.probes[t.RegionID]; ok {
		return p
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", t.Endpoint, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("probe %s: status %d", t.Endpoint, resp.StatusCode)
		}
		return nil
	}
}

// window keeps the last K probe results and applies the N-consecutive
// hysteresis that prevents flapping.
type window struct {
	results   []bool
	size      int
	threshold int
	current   failover.Belief
}

func newWindow(size, threshold int) *window {
	return &window{
		results:   make([]bool, 0, size),
		size:      size,
		threshold: threshold,
		current:   failover.BeliefUndecided,
	}
}

func (w *window) add(success bool) {
	w.results = append(w.results, success)
	if len(w.results) > w.size {
		w.results = w.results[len(w.results)-w.size:]
	}

	if len(w.results) < w.threshold {
		return
	}
	tail := w.results[len(w.results)-w.threshold:]

	allFail := true
	allOK := true
	for _, ok := range tail {
		if ok {
			allFail = false
		} else {
			allOK = false
		}
	}

	switch {
	case allFail:
		w.current = failover.BelievedDown
	case allOK:
		w.current = failover.BelievedUp
	}
	// Mixed tails keep the previous belief.
}

func (w *window) believed() failover.Belief {
	return w.current
}

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Target is one webhook endpoint to notify
type Target struct {
	URL    string `json:"url" yaml:"url"`
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Payload is the body delivered to webhook endpoints
type Payload struct {
	DeliveryID string                 `json:"delivery_id"`
	EventID    string                 `json:"event_id"`
	EventState string                 `json:"event_state"`
	State      string                 `json:"coordinator_state"`
	Cause      string                 `json:"cause"`
	FromRegion string                 `json:"from_region"`
	ToRegion   string                 `json:"to_region"`
	Reason     string                 `json:"reason,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Attempt    int                    `json:"attempt"`
	Event      failover.FailoverEvent `json:"event"`
}

// Config tunes the dispatcher
type Config struct {
	RequestTimeout time.Duration
	SpoolSize      int
	Retry          retry.Policy
	RatePerSecond  float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		SpoolSize:      1024,
		Retry: retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			BackoffFactor:  2.0,
		},
		RatePerSecond: 10,
	}
}

type delivery struct {
	target  Target
	payload Payload
}

// maxDedupKeys caps the in-memory dedup window. Oldest keys are evicted
// first; a key that ages out can deliver again, which at-least-once
// semantics tolerate.
const maxDedupKeys = 4096

// Dispatcher fans failover events out to webhook targets. Fire-and-forget
// relative to the coordinator: Notify enqueues and returns. Delivery is
// at-least-once with client-side dedup keyed by event ID + event state +
// coordinator state; failed deliveries retry from a local spool and never
// surface as coordinator errors.
type Dispatcher struct {
	cfg     Config
	targets []Target
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu        sync.Mutex
	seen      map[string]bool
	seenOrder []string

	spool    chan delivery
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given targets
func NewDispatcher(cfg Config, targets []Target, logger *zap.Logger) *Dispatcher {
	if cfg.SpoolSize <= 0 {
		cfg.SpoolSize = DefaultConfig().SpoolSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		cfg:     cfg,
		targets: targets,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1),
		logger:  logger,
		seen:    make(map[string]bool),
		spool:   make(chan delivery, cfg.SpoolSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the delivery worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.deliverLoop(ctx)
}

// Stop drains nothing: pending deliveries in the spool are abandoned,
// which at-least-once semantics tolerate (the audit log holds the record).
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// Notify enqueues one delivery per target for the coordinator transition
// the event just drove. The coordinator state is part of the dedup key so
// that consecutive transitions reusing one event, such as EVALUATING
// followed by DEGRADED_MANUAL when automatic failover is blocked, each
// reach the operator. Duplicate (event ID, event state, coordinator state)
// triples are suppressed. Never blocks.
func (d *Dispatcher) Notify(ev failover.FailoverEvent, state failover.State) {
	key := ev.ID + ":" + string(ev.State) + ":" + string(state)

	d.mu.Lock()
	if d.seen[key] {
		d.mu.Unlock()
		return
	}
	d.seen[key] = true
	d.seenOrder = append(d.seenOrder, key)
	if len(d.seenOrder) > maxDedupKeys {
		evict := d.seenOrder[0]
		d.seenOrder = d.seenOrder[1:]
		delete(d.seen, evict)
	}
	d.mu.Unlock()

	for _, t := range d.targets {
		del := delivery{
			target: t,
			payload: Payload{
				DeliveryID: uuid.New().String(),
				EventID:    ev.ID,
				EventState: string(ev.State),
				State:      string(state),
				Cause:      string(ev.Cause),
				FromRegion: ev.FromRegion,
				ToRegion:   ev.ToRegion,
				Reason:     ev.Reason,
				Timestamp:  time.Now().UTC(),
				Event:      ev,
			},
		}
		select {
		case d.spool <- del:
		default:
			d.logger.Warn("notification spool full, dropping delivery",
				zap.String("event_id", ev.ID),
				zap.String("state", string(ev.State)),
				zap.String("url", t.URL))
		}
	}
}

func (d *Dispatcher) deliverLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case del := <-d.spool:
			d.deliver(ctx, del)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, del delivery) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	err := d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		del.payload.Attempt++
		return d.send(ctx, del)
	})
	if err != nil {
		d.logger.Error("notification delivery failed after retries",
			zap.String("event_id", del.payload.EventID),
			zap.String("state", del.payload.EventState),
			zap.String("url", del.target.URL),
			zap.Error(err))
	}
}

func (d *Dispatcher) send(ctx context.Context, del delivery) error {
	body, err := json.Marshal(del.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meridian-Event", del.payload.EventID)
	if del.target.Secret != "" {
		req.Header.Set("X-Meridian-Signature", sign(del.target.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", del.target.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", del.target.URL, resp.StatusCode)
	}
	return nil
}

// sign computes an HMAC-SHA256 signature over the payload body
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

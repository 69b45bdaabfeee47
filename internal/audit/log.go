package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"
)

// Entry is one immutable audit record: a failover event state change plus
// the coordinator's health/lag summary at that moment. Raw polls are never
// recorded individually; only transitions reach the log.
type Entry struct {
	ID               uuid.UUID              `json:"id"`
	EventID          string                 `json:"event_id"`
	EventState       failover.EventState    `json:"event_state"`
	Cause            failover.Cause         `json:"cause"`
	FromRegion       string                 `json:"from_region"`
	ToRegion         string                 `json:"to_region"`
	CoordinatorState failover.State         `json:"coordinator_state"`
	Note             string                 `json:"note"`
	Snapshot         failover.Snapshot      `json:"snapshot"`
	Event            failover.FailoverEvent `json:"event"`
	Timestamp        time.Time              `json:"timestamp"`
}

// QueryFilters narrows an audit query
type QueryFilters struct {
	EventID string
	State   string
	Since   time.Time
}

const maxBufferedEntries = 1000

// Log is the append-only audit sink. Entries always land in a bounded
// in-memory ring; when a database is configured they are also persisted
// asynchronously so a slow sink never stalls a coordinator transition.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	db      *sql.DB
	writeCh chan Entry
	logger  *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLog creates an in-memory audit log
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		entries: make([]Entry, 0, 64),
		writeCh: make(chan Entry, 256),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// NewLogWithDB creates an audit log that also persists to Postgres
func NewLogWithDB(dsn string, logger *zap.Logger) (*Log, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	l := NewLog(logger)
	l.db = db
	return l, nil
}

// Migrate creates the audit table
func (l *Log) Migrate(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	query := `
		CREATE TABLE IF NOT EXISTS failover_audit (
			id UUID PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_state TEXT NOT NULL,
			cause TEXT NOT NULL,
			from_region TEXT NOT NULL,
			to_region TEXT NOT NULL,
			coordinator_state TEXT NOT NULL,
			note TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_failover_audit_event
			ON failover_audit(event_id, created_at DESC);
	`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("audit: create table: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable at startup
func (l *Log) Ping(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	return l.db.PingContext(ctx)
}

// Start launches the async persistence worker (no-op without a database)
func (l *Log) Start(ctx context.Context) {
	if l.db == nil {
		return
	}
	l.wg.Add(1)
	go l.persistLoop(ctx)
}

// Stop halts the persistence worker
func (l *Log) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	if l.db != nil {
		_ = l.db.Close()
	}
}

// Append records a failover event transition. Implements the coordinator's
// Auditor interface; returns quickly, durable writes are asynchronous.
func (l *Log) Append(ctx context.Context, ev failover.FailoverEvent, note string, snap failover.Snapshot) {
	entry := Entry{
		ID:               uuid.New(),
		EventID:          ev.ID,
		EventState:       ev.State,
		Cause:            ev.Cause,
		FromRegion:       ev.FromRegion,
		ToRegion:         ev.ToRegion,
		CoordinatorState: snap.State,
		Note:             note,
		Snapshot:         snap,
		Event:            ev,
		Timestamp:        time.Now().UTC(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxBufferedEntries {
		l.entries = l.entries[len(l.entries)-maxBufferedEntries:]
	}
	l.mu.Unlock()

	if l.db != nil {
		select {
		case l.writeCh <- entry:
		default:
			l.logger.Warn("audit persistence queue full, entry kept in memory only",
				zap.String("event_id", entry.EventID))
		}
	}
}

func (l *Log) persistLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case entry := <-l.writeCh:
			l.persist(ctx, entry)
		}
	}
}

func (l *Log) persist(ctx context.Context, entry Entry) {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		l.logger.Error("marshal audit snapshot", zap.Error(err))
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = l.db.ExecContext(wctx, `
		INSERT INTO failover_audit
			(id, event_id, event_state, cause, from_region, to_region,
			 coordinator_state, note, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		entry.ID, entry.EventID, string(entry.EventState), string(entry.Cause),
		entry.FromRegion, entry.ToRegion, string(entry.CoordinatorState),
		entry.Note, snapshot, entry.Timestamp)
	if err != nil {
		l.logger.Error("persist audit entry",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))
	}
}

// Query returns entries matching the filters, oldest first
func (l *Log) Query(ctx context.Context, filters QueryFilters, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > maxBufferedEntries {
		limit = maxBufferedEntries
	}

	out := make([]Entry, 0, 16)
	for _, e := range l.entries {
		if filters.EventID != "" && e.EventID != filters.EventID {
			continue
		}
		if filters.State != "" && string(e.EventState) != filters.State {
			continue
		}
		if !filters.Since.IsZero() && e.Timestamp.Before(filters.Since) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get returns one entry by ID
func (l *Log) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			e := l.entries[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("audit: entry %s not found", id)
}

// Len reports how many entries are buffered
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

package replication

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"
)

// replayLagQuery reads the replica's replay delay. On a replica that has
// fully caught up pg_last_xact_replay_timestamp can be NULL; treat that
// as zero lag.
const replayLagQuery = `
	SELECT COALESCE(EXTRACT(EPOCH FROM now() - pg_last_xact_replay_timestamp()), 0)
`

// PostgresLag measures relational replication lag using the replica's
// native replay-timestamp metric.
type PostgresLag struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresLag connects to the replica named by dsn
func NewPostgresLag(dsn string, logger *zap.Logger) (*PostgresLag, error) {
	if dsn == "" {
		return nil, fmt.Errorf("replication: postgres dsn required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open replica connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresLag{db: db, logger: logger}, nil
}

// NewPostgresLagFromDB wraps an existing connection (used in tests)
func NewPostgresLagFromDB(db *sql.DB, logger *zap.Logger) *PostgresLag {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLag{db: db, logger: logger}
}

// MeasureLag queries the replica for its replay delay
func (p *PostgresLag) MeasureLag(ctx context.Context) (time.Duration, error) {
	var lagSeconds float64
	if err := p.db.QueryRowContext(ctx, replayLagQuery).Scan(&lagSeconds); err != nil {
		return 0, fmt.Errorf("query replica lag: %w", err)
	}
	if lagSeconds < 0 {
		// Clock skew between primary and replica can report negative lag.
		lagSeconds = 0
	}
	return time.Duration(lagSeconds * float64(time.Second)), nil
}

// Ping verifies the replica is reachable at startup
func (p *PostgresLag) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool
func (p *PostgresLag) Close() error {
	return p.db.Close()
}

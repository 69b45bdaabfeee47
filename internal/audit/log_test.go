package audit

import (
	"context"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func appendEntry(l *Log, eventID string, state failover.EventState, note string) {
	l.Append(context.Background(), failover.FailoverEvent{
		ID:         eventID,
		Cause:      failover.CauseHealth,
		FromRegion: "us-east-1",
		ToRegion:   "us-west-2",
		State:      state,
	}, note, failover.Snapshot{State: failover.StatePromoting})
}

func TestLogAppendAndQuery(t *testing.T) {
	l := NewLog(zap.NewNop())

	appendEntry(l, "ev-1", failover.EventEvaluating, "evaluation started")
	appendEntry(l, "ev-1", failover.EventPromoting, "traffic transfer started")
	appendEntry(l, "ev-2", failover.EventEvaluating, "evaluation started")

	assert.Equal(t, 3, l.Len())

	t.Run("all entries oldest first", func(t *testing.T) {
		entries, err := l.Query(context.Background(), QueryFilters{}, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "ev-1", entries[0].EventID)
		assert.Equal(t, failover.EventEvaluating, entries[0].EventState)
		assert.False(t, entries[0].Timestamp.After(entries[2].Timestamp))
	})

	t.Run("filter by event id", func(t *testing.T) {
		entries, err := l.Query(context.Background(), QueryFilters{EventID: "ev-1"}, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})

	t.Run("filter by state", func(t *testing.T) {
		entries, err := l.Query(context.Background(), QueryFilters{State: string(failover.EventPromoting)}, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "ev-1", entries[0].EventID)
	})

	t.Run("filter by since", func(t *testing.T) {
		entries, err := l.Query(context.Background(), QueryFilters{Since: time.Now().Add(time.Hour)}, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("limit honored", func(t *testing.T) {
		entries, err := l.Query(context.Background(), QueryFilters{}, 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestLogGet(t *testing.T) {
	l := NewLog(zap.NewNop())
	appendEntry(l, "ev-1", failover.EventCompleted, "transfer completed")

	entries, err := l.Query(context.Background(), QueryFilters{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := l.Get(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", got.EventID)
	assert.Equal(t, "transfer completed", got.Note)
	assert.Equal(t, failover.StatePromoting, got.CoordinatorState)

	_, err = l.Get(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestLogRingBound(t *testing.T) {
	l := NewLog(zap.NewNop())
	for i := 0; i < maxBufferedEntries+50; i++ {
		appendEntry(l, "ev-ring", failover.EventEvaluating, "spin")
	}
	assert.Equal(t, maxBufferedEntries, l.Len())
}

func TestLogCapturesSnapshot(t *testing.T) {
	l := NewLog(zap.NewNop())

	snap := failover.Snapshot{
		State: failover.StateDegradedManual,
		Beliefs: map[string]failover.Belief{
			"us-east-1": failover.BelievedDown,
			"us-west-2": failover.BelievedUp,
		},
	}
	l.Append(context.Background(), failover.FailoverEvent{ID: "ev-3", State: failover.EventEvaluating},
		"automatic failover blocked: channel orders-pg lag unknown", snap)

	entries, err := l.Query(context.Background(), QueryFilters{EventID: "ev-3"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, failover.BelievedDown, entries[0].Snapshot.Beliefs["us-east-1"])
	assert.Contains(t, entries[0].Note, "lag unknown")
}

package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func rec(agentID string, offset time.Duration, sent, recv int64) Record {
	return Record{
		AgentID:       agentID,
		Timestamp:     t0.Add(offset),
		BytesSent:     sent,
		BytesReceived: recv,
	}
}

func TestMemoryStoreQueryRangeOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("b", 2*time.Second, 1, 1)))
	require.NoError(t, s.Append(ctx, rec("a", 2*time.Second, 1, 1)))
	require.NoError(t, s.Append(ctx, rec("a", 1*time.Second, 1, 1)))
	require.NoError(t, s.Append(ctx, rec("b", 0, 1, 1)))

	all, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, all, 4)

	assert.Equal(t, "b", all[0].AgentID)
	assert.Equal(t, t0, all[0].Timestamp)
	assert.Equal(t, "a", all[1].AgentID)
	// Tie at +2s broken by agent id
	assert.Equal(t, "a", all[2].AgentID)
	assert.Equal(t, "b", all[3].AgentID)
}

func TestMemoryStoreQueryRangeBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(ctx, rec("a", time.Duration(i)*time.Minute, int64(i), 0)))
	}
	require.NoError(t, s.Append(ctx, rec("b", 3*time.Minute, 1, 0)))

	got, err := s.QueryRange(ctx, RangeQuery{
		AgentIDs: []string{"a"},
		From:     t0.Add(2 * time.Minute),
		To:       t0.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, r := range got {
		assert.Equal(t, "a", r.AgentID)
		assert.Equal(t, t0.Add(time.Duration(i+2)*time.Minute), r.Timestamp)
	}
}

func TestMemoryStoreConnectionsOptional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r := rec("a", 0, 1, 1)
	r.Connections = []Connection{{PeerAddress: "100.64.0.2", BytesSent: 10}}
	require.NoError(t, s.Append(ctx, r))

	without, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0})
	require.NoError(t, err)
	require.Len(t, without, 1)
	assert.Nil(t, without[0].Connections)

	with, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0, WithConnections: true})
	require.NoError(t, err)
	require.Len(t, with, 1)
	assert.Equal(t, r.Connections, with[0].Connections)
}

func TestMemoryStoreAppendDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r := rec("a", 0, 100, 200)
	require.NoError(t, s.Append(ctx, r))
	require.NoError(t, s.Append(ctx, r))

	changed := r
	changed.BytesSent = 101
	assert.ErrorIs(t, s.Append(ctx, changed), ErrDuplicateTimestamp)

	got, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].BytesSent)
}

func TestMemoryStoreLatestPerAgent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("a", 2*time.Second, 20, 0)))
	require.NoError(t, s.Append(ctx, rec("a", 1*time.Second, 10, 0)))
	require.NoError(t, s.Append(ctx, rec("b", 0, 5, 0)))

	latest, err := s.LatestPerAgent(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(20), latest["a"].BytesSent)
	assert.Equal(t, int64(5), latest["b"].BytesSent)
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, rec("a", time.Duration(i)*time.Hour, 0, 0)))
	}
	require.NoError(t, s.Append(ctx, rec("b", 0, 0, 0)))

	cutoff := t0.Add(2 * time.Hour)
	deleted, err := s.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	rest, err := s.QueryRange(ctx, RangeQuery{From: t0.Add(-time.Hour), To: t0.Add(10 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	for _, r := range rest {
		assert.False(t, r.Timestamp.Before(cutoff))
	}

	latest, err := s.LatestPerAgent(ctx)
	require.NoError(t, err)
	_, hasB := latest["b"]
	assert.False(t, hasB)
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for a := 0; a < 10; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			agentID := string(rune('a' + a))
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.Append(ctx, rec(agentID, time.Duration(i)*time.Second, int64(i), 0)))
			}
		}(a)
	}
	wg.Wait()

	all, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, all, 500)
}

func TestMemoryStoreRetryOfMovedRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("a", 0, 1, 0)))
	moved := rec("a", time.Minute, 2, 0)
	moved.ClientTimestamp = t0
	require.NoError(t, s.Append(ctx, moved))

	// Same sample sent again at the time the agent reported.
	require.NoError(t, s.Append(ctx, rec("a", 0, 2, 0)))
	assert.ErrorIs(t, s.Append(ctx, rec("a", 0, 3, 0)), ErrDuplicateTimestamp)

	all, err := s.QueryRange(ctx, RangeQuery{From: t0, To: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Restamped())
	assert.Equal(t, t0, all[1].ObservedAt())

	deleted, err := s.DeleteOlderThan(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Empty(t, s.restamped)
}

type recordingLastSeen struct {
	err  error
	seen map[string]time.Time
}

func (r *recordingLastSeen) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.seen[id] = at
	return nil
}

func TestMemoryStoreAppendSeen(t *testing.T) {
	ctx := context.Background()
	lastSeen := &recordingLastSeen{seen: make(map[string]time.Time)}
	s := NewMemoryStore().WithLastSeen(lastSeen)

	seenAt := t0.Add(time.Second)
	require.NoError(t, s.AppendSeen(ctx, rec("a", 0, 1, 0), seenAt))
	assert.Equal(t, seenAt, lastSeen.seen["a"])

	// A plain append leaves last-seen alone.
	require.NoError(t, s.Append(ctx, rec("b", 0, 1, 0)))
	assert.NotContains(t, lastSeen.seen, "b")

	// A conflicting record is rejected before last-seen moves.
	assert.ErrorIs(t, s.AppendSeen(ctx, rec("a", 0, 9, 0), t0.Add(time.Hour)), ErrDuplicateTimestamp)
	assert.Equal(t, seenAt, lastSeen.seen["a"])

	lastSeen.err = errors.New("agent store down")
	err := s.AppendSeen(ctx, rec("a", time.Minute, 2, 0), t0.Add(time.Minute))
	assert.ErrorIs(t, err, lastSeen.err)

	got, err := s.QueryRange(ctx, RangeQuery{AgentIDs: []string{"a"}, From: t0, To: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].BytesSent)
}

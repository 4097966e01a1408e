package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

type observedKey struct {
	agentID string
	at      int64
}

// MemoryStore keeps records in process memory, one timestamp-sorted slice per agent.
type MemoryStore struct {
	mu      sync.RWMutex
	byAgent map[string][]Record
	// restamped maps an agent's reported sample time to the instants its moved records occupy.
	restamped map[observedKey][]time.Time
	lastSeen  LastSeenStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAgent:   make(map[string][]Record),
		restamped: make(map[observedKey][]time.Time),
	}
}

// WithLastSeen sets the agent store AppendSeen advances.
func (s *MemoryStore) WithLastSeen(store LastSeenStore) *MemoryStore {
	s.lastSeen = store
	return s
}

func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	return s.AppendSeen(ctx, rec, time.Time{})
}

// AppendSeen holds the store lock across the last-seen update, so a failed update leaves
// no record behind and a stored record is never missing its update.
func (s *MemoryStore) AppendSeen(ctx context.Context, rec Record, seenAt time.Time) error {
	rec = cloneRecord(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.byAgent[rec.AgentID]
	retry := s.holds(series, rec)
	i, occupied := locate(series, rec.Timestamp)
	if !retry && occupied {
		return ErrDuplicateTimestamp
	}

	if !seenAt.IsZero() && s.lastSeen != nil {
		if err := s.lastSeen.TouchLastSeen(ctx, rec.AgentID, seenAt); err != nil {
			return err
		}
	}
	if retry {
		return nil
	}

	series = append(series, Record{})
	copy(series[i+1:], series[i:])
	series[i] = rec
	s.byAgent[rec.AgentID] = series

	if rec.Restamped() {
		key := keyOf(rec)
		s.restamped[key] = append(s.restamped[key], rec.Timestamp)
	}
	return nil
}

// holds reports whether series already stores the observation rec carries.
func (s *MemoryStore) holds(series []Record, rec Record) bool {
	observed := rec.ObservedAt()
	stamps := append([]time.Time{observed}, s.restamped[keyOf(rec)]...)
	for _, ts := range stamps {
		if j, ok := locate(series, ts); ok && series[j].SameObservation(rec) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) forget(rec Record) {
	if !rec.Restamped() {
		return
	}
	key := keyOf(rec)
	stamps := s.restamped[key][:0]
	for _, ts := range s.restamped[key] {
		if !ts.Equal(rec.Timestamp) {
			stamps = append(stamps, ts)
		}
	}
	if len(stamps) == 0 {
		delete(s.restamped, key)
		return
	}
	s.restamped[key] = stamps
}

func keyOf(rec Record) observedKey {
	return observedKey{agentID: rec.AgentID, at: rec.ObservedAt().UnixNano()}
}

func locate(series []Record, ts time.Time) (int, bool) {
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(ts)
	})
	return i, i < len(series) && series[i].Timestamp.Equal(ts)
}

func (s *MemoryStore) QueryRange(ctx context.Context, q RangeQuery) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agentIDs := q.AgentIDs
	if len(agentIDs) == 0 {
		agentIDs = make([]string, 0, len(s.byAgent))
		for id := range s.byAgent {
			agentIDs = append(agentIDs, id)
		}
	}

	var result []Record
	seen := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		series := s.byAgent[id]
		start := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(q.From)
		})
		for _, rec := range series[start:] {
			if rec.Timestamp.After(q.To) {
				break
			}
			c := cloneRecord(rec)
			if !q.WithConnections {
				c.Connections = nil
			}
			result = append(result, c)
		}
	}

	SortRecords(result)
	return result, nil
}

func (s *MemoryStore) LatestPerAgent(ctx context.Context) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]Record, len(s.byAgent))
	for id, series := range s.byAgent {
		if len(series) == 0 {
			continue
		}
		latest := cloneRecord(series[len(series)-1])
		latest.Connections = nil
		result[id] = latest
	}
	return result, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, series := range s.byAgent {
		keep := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})
		if keep == 0 {
			continue
		}
		for _, rec := range series[:keep] {
			s.forget(rec)
		}
		deleted += int64(keep)
		if keep == len(series) {
			delete(s.byAgent, id)
			continue
		}
		s.byAgent[id] = append([]Record(nil), series[keep:]...)
	}
	return deleted, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SortRecords orders records ascending by timestamp, ties broken by agent id.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].AgentID < records[j].AgentID
	})
}

func cloneRecord(r Record) Record {
	if r.Connections != nil {
		r.Connections = append([]Connection(nil), r.Connections...)
	}
	return r
}

// Package statestore keeps the bounded FIFO history of completed
// executions.
package statestore

import (
	"sync"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/kestrelworks/dirigent"
)

// RingStore is a thread-safe ring buffer of the last maxHistory state
// entries. Entries are immutable once appended and evicted strictly FIFO:
// appending entry N+1 to a full store evicts exactly the oldest entry.
type RingStore struct {
	mu         sync.RWMutex
	entries    []dirigent.StateEntry
	head       int // index of the oldest entry
	count      int
	maxHistory int

	byID  map[string]int // execution id -> slot
	byKey map[string]int // result key -> slot
}

// NewRingStore creates a state store bounded to maxHistory entries.
func NewRingStore(maxHistory int) *RingStore {
	if maxHistory <= 0 {
		maxHistory = 1
	}
	return &RingStore{
		entries:    make([]dirigent.StateEntry, maxHistory),
		maxHistory: maxHistory,
		byID:       make(map[string]int, maxHistory),
		byKey:      make(map[string]int, maxHistory),
	}
}

// Append records an entry, evicting the oldest one when full.
func (s *RingStore) Append(entry dirigent.StateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slot int
	if s.count < s.maxHistory {
		slot = (s.head + s.count) % s.maxHistory
		s.count++
	} else {
		// Evict the oldest entry and reuse its slot. The index entries are
		// removed only when they still point at the evicted slot; a newer
		// entry reusing the same id or key keeps its mapping.
		evicted := s.entries[s.head]
		if s.byID[evicted.ExecutionID] == s.head {
			delete(s.byID, evicted.ExecutionID)
		}
		if evicted.ResultKey != "" && s.byKey[evicted.ResultKey] == s.head {
			delete(s.byKey, evicted.ResultKey)
		}
		slot = s.head
		s.head = (s.head + 1) % s.maxHistory
	}

	s.entries[slot] = entry
	s.byID[entry.ExecutionID] = slot
	if entry.ResultKey != "" {
		s.byKey[entry.ResultKey] = slot
	}
}

// ByID retrieves an entry by its execution id.
func (s *RingStore) ByID(executionID string) (dirigent.StateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.byID[executionID]
	if !ok {
		return dirigent.StateEntry{}, errbuilder.NotFoundErr(errbuilder.GenericErr("state entry not found", nil))
	}
	return s.entries[slot], nil
}

// ByKey retrieves the most recent entry recorded under a result key.
func (s *RingStore) ByKey(resultKey string) (dirigent.StateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.byKey[resultKey]
	if !ok {
		return dirigent.StateEntry{}, errbuilder.NotFoundErr(errbuilder.GenericErr("state entry not found", nil))
	}
	return s.entries[slot], nil
}

// Size returns the number of entries currently held.
func (s *RingStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Snapshot returns the entries oldest-first. Intended for inspection; the
// returned slice is a copy.
func (s *RingStore) Snapshot() []dirigent.StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dirigent.StateEntry, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.entries[(s.head+i)%s.maxHistory])
	}
	return out
}

// Package history keeps the bounded in-memory log of finished swaps.
package history

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/swapengine/internal/swap/model"
)

// Log is ordered by swap sequence. When full, the oldest entry is evicted.
type Log struct {
	mu       sync.RWMutex
	capacity int
	bySeq    *btree.Map[uint64, model.Swap]
	index    map[uuid.UUID]uint64
}

// NewLog creates a log holding at most capacity swaps.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		capacity: capacity,
		bySeq:    btree.NewMap[uint64, model.Swap](32),
		index:    make(map[uuid.UUID]uint64, capacity),
	}
}

// Add appends a finished swap and returns how many entries were evicted.
func (l *Log) Add(s model.Swap) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.index[s.ID]; ok {
		l.bySeq.Delete(prev)
	}
	l.bySeq.Set(s.Sequence, s)
	l.index[s.ID] = s.Sequence

	evicted := 0
	for l.bySeq.Len() > l.capacity {
		_, old, ok := l.bySeq.PopMin()
		if !ok {
			break
		}
		delete(l.index, old.ID)
		evicted++
	}
	return evicted
}

// Recent returns up to limit swaps, newest first. limit <= 0 returns all.
func (l *Log) Recent(limit int) []model.Swap {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.bySeq.Len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Swap, 0, limit)
	l.bySeq.Reverse(func(_ uint64, s model.Swap) bool {
		out = append(out, s)
		return len(out) < limit
	})
	return out
}

// Get looks a swap up by id.
func (l *Log) Get(id uuid.UUID) (model.Swap, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seq, ok := l.index[id]
	if !ok {
		return model.Swap{}, false
	}
	return l.bySeq.Get(seq)
}

// Len returns the number of retained swaps.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bySeq.Len()
}

// Count tallies retained swaps by status.
func (l *Log) Count() map[model.SwapStatus]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[model.SwapStatus]int, 3)
	l.bySeq.Scan(func(_ uint64, s model.Swap) bool {
		out[s.Status]++
		return true
	})
	return out
}

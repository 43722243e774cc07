package history

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/swapengine/internal/swap/model"
)

func swapAt(seq uint64, status model.SwapStatus) model.Swap {
	return model.Swap{ID: uuid.New(), Sequence: seq, Status: status}
}

func TestLog_EvictsOldest(t *testing.T) {
	l := NewLog(3)
	var swaps []model.Swap
	for i := uint64(1); i <= 5; i++ {
		s := swapAt(i, model.SwapCompleted)
		swaps = append(swaps, s)
		evicted := l.Add(s)
		if i <= 3 {
			assert.Zero(t, evicted)
		} else {
			assert.Equal(t, 1, evicted)
		}
	}

	assert.Equal(t, 3, l.Len())
	_, ok := l.Get(swaps[0].ID)
	assert.False(t, ok)
	_, ok = l.Get(swaps[1].ID)
	assert.False(t, ok)

	got, ok := l.Get(swaps[4].ID)
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Sequence)
}

func TestLog_RecentIsNewestFirst(t *testing.T) {
	l := NewLog(10)
	// out of order insertion still orders by sequence
	for _, seq := range []uint64{3, 1, 4, 2} {
		l.Add(swapAt(seq, model.SwapFailed))
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].Sequence)
	assert.Equal(t, uint64(3), recent[1].Sequence)

	assert.Len(t, l.Recent(0), 4)
	assert.Len(t, l.Recent(100), 4)
	assert.Empty(t, NewLog(1).Recent(5))
}

func TestLog_ReAddReplaces(t *testing.T) {
	l := NewLog(5)
	s := swapAt(1, model.SwapFailed)
	l.Add(s)
	s.Sequence = 2
	s.Status = model.SwapRolledBack
	l.Add(s)

	assert.Equal(t, 1, l.Len())
	got, ok := l.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, model.SwapRolledBack, got.Status)
}

func TestLog_Count(t *testing.T) {
	l := NewLog(10)
	l.Add(swapAt(1, model.SwapCompleted))
	l.Add(swapAt(2, model.SwapCompleted))
	l.Add(swapAt(3, model.SwapRolledBack))

	counts := l.Count()
	assert.Equal(t, 2, counts[model.SwapCompleted])
	assert.Equal(t, 1, counts[model.SwapRolledBack])
	assert.Zero(t, counts[model.SwapFailed])
}

func TestLog_ConcurrentAdd(t *testing.T) {
	l := NewLog(50)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			l.Add(swapAt(seq, model.SwapCompleted))
			l.Recent(5)
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
	assert.Equal(t, uint64(200), l.Recent(1)[0].Sequence)
}

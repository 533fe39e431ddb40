package lifetime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsTableInitialState(t *testing.T) {
	st := NewStatsTable()
	snap := st.Snapshot()

	assert.True(t, snap.Serving)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.Processing)
	assert.Empty(t, snap.PerCaller)
}

func TestStatsTableCounters(t *testing.T) {
	st := NewStatsTable()

	assert.Equal(t, int64(1), st.IncrementTotal())
	assert.Equal(t, int64(2), st.IncrementTotal())
	st.IncrementProcessing()
	st.RecordCaller("Say")
	st.RecordCaller("Say")
	st.RecordCaller("Shout")

	snap := st.Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.Processing)
	assert.Equal(t, map[string]int64{"Say": 2, "Shout": 1}, snap.PerCaller)

	assert.True(t, st.DecrementProcessing())
	assert.False(t, st.DecrementProcessing(), "decrement below zero must be refused")
	assert.Equal(t, int64(0), st.Processing())
}

func TestStatsTableSnapshotIsCopy(t *testing.T) {
	st := NewStatsTable()
	st.RecordCaller("Say")

	snap := st.Snapshot()
	snap.PerCaller["Say"] = 100
	snap.PerCaller["Other"] = 1

	assert.Equal(t, map[string]int64{"Say": 1}, st.Snapshot().PerCaller)
}

func TestStatsTableMarkNotServingOnce(t *testing.T) {
	st := NewStatsTable()

	var wg sync.WaitGroup
	var mu sync.Mutex
	flips := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st.MarkNotServing() {
				mu.Lock()
				flips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flips)
	assert.False(t, st.IsServing())
}

func TestSnapshotString(t *testing.T) {
	snap := Snapshot{
		Total:      3,
		Processing: 1,
		Serving:    true,
		PerCaller:  map[string]int64{"b": 1, "a": 2},
	}
	assert.Equal(t, "{Total: 3, NumProcessing: 1, Serving: true, a: 2, b: 1}", snap.String())
}

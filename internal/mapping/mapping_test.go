package mapping

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUpsertReadReturnsExactPredecessor exercises spec.md §8 property 5:
// MAP.upsert(id, v, &old); MAP.read(id) == v, and old equals the value
// last written to id (or 0).
func TestUpsertReadReturnsExactPredecessor(t *testing.T) {
	table := New(16)

	old, err := table.Upsert(3, 100, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), old)

	v, ok, err := table.Read(3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), v)

	old, err = table.Upsert(3, 200, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), old)
}

// TestUpsertClearedEntryReadsAsUnset exercises the flag bit directly: an
// entry upserted with flag=false reads back as 0 regardless of newVal, and
// an entry legitimately mapped to address 0 (flag=true) is distinguishable
// from one that was never set.
func TestUpsertClearedEntryReadsAsUnset(t *testing.T) {
	table := New(4)

	old, err := table.Upsert(1, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), old)
	v, ok, err := table.Read(1)
	require.NoError(t, err)
	assert.True(t, ok, "a legitimate mapping to address 0 must report ok")
	assert.Equal(t, uint64(0), v)

	old, err = table.Upsert(1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), old, "reading back a flag=true 0-address still reports 0")

	v, ok, err = table.Read(1)
	require.NoError(t, err)
	assert.False(t, ok, "clearing an entry must report ok=false")
	assert.Equal(t, uint64(0), v)

	_, err = table.Upsert(2, 0, false)
	require.NoError(t, err)
	v, ok, err = table.Read(2)
	require.NoError(t, err)
	assert.False(t, ok, "an id never validly mapped reads as unset")
	assert.Equal(t, uint64(0), v, "an id never validly mapped reads as 0")
}

func TestUpsertReadOutOfRange(t *testing.T) {
	table := New(4)
	_, err := table.Upsert(4, 1, true)
	require.Error(t, err)
	_, _, err = table.Read(4)
	require.Error(t, err)
}

func TestConcurrentUpsertsPreserveExactPredecessorChain(t *testing.T) {
	table := New(1)
	const writers = 8
	const perWriter = 50

	olds := make(chan uint64, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				val := uint64(w*perWriter + i + 1)
				old, err := table.Upsert(0, val, true)
				require.NoError(t, err)
				olds <- old
			}
		}()
	}
	wg.Wait()
	close(olds)

	seen := make(map[uint64]bool)
	for old := range olds {
		assert.False(t, seen[old], "value %d reported as predecessor twice", old)
		seen[old] = true
	}
}

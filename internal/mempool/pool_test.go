package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipicoli/ztl-go/internal/zerrors"
)

func TestCreateGetPutLeftDestroy(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(TypeMediaCmd, 0, 8, 64))

	left, err := m.Left(TypeMediaCmd, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, left)

	e, err := m.Get(TypeMediaCmd, 0)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Len(t, e.Opaque, 64)

	require.NoError(t, m.Put(e, TypeMediaCmd, 0))

	left, err = m.Left(TypeMediaCmd, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, left)

	require.NoError(t, m.Destroy(TypeMediaCmd, 0))
}

func TestCreateActiveTwiceFails(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(TypeMediaCmd, 1, 4, 32))
	err := m.Create(TypeMediaCmd, 1, 4, 32)
	require.Error(t, err)
	assert.True(t, zerrors.IsCode(err, zerrors.MPActive))
}

func TestGetOutOfBoundsBucket(t *testing.T) {
	m := NewManager()
	_, err := m.Get(TypeMediaCmd, 99)
	require.Error(t, err)
	assert.True(t, zerrors.IsCode(err, zerrors.MPInvalid))
}

func TestCreateOutOfRangeTID(t *testing.T) {
	m := NewManager()
	err := m.Create(TypeMediaCmd, 1000, 4, 32)
	require.Error(t, err)
	assert.True(t, zerrors.IsCode(err, zerrors.MPOutOfBounds))
}

// TestSPSCInOutBalance exercises property 6 from spec.md §8: after any
// sequence of get/put, the pool never reports more checked-out slots than
// its capacity.
func TestSPSCInOutBalance(t *testing.T) {
	m := NewManager()
	const entries = 16
	require.NoError(t, m.Create(TypeMediaCmd, 2, entries, 16))

	var wg sync.WaitGroup
	puts := make(chan *Entry, entries*4)

	// Single producer thread performs every Get (consumer of the pool);
	// a single separate thread performs every Put (producer back into
	// the pool), matching the SPSC discipline in spec.md §4.1.
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < entries*4; i++ {
			e, err := m.Get(TypeMediaCmd, 2)
			require.NoError(t, err)
			puts <- e
		}
		close(puts)
	}()
	go func() {
		defer wg.Done()
		for e := range puts {
			require.NoError(t, m.Put(e, TypeMediaCmd, 2))
		}
	}()
	wg.Wait()

	left, err := m.Left(TypeMediaCmd, 2)
	require.NoError(t, err)
	assert.Equal(t, entries, left)
}

// TestDestroyReleasesAllPooledSlots exercises property 7: after exit,
// left(t,tid) == entries (all slots returned).
func TestDestroyReleasesAllPooledSlots(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Create(TypeClientBuffer, 3, 4, 8))
	e, err := m.Get(TypeClientBuffer, 3)
	require.NoError(t, err)
	require.NoError(t, m.Put(e, TypeClientBuffer, 3))

	left, err := m.Left(TypeClientBuffer, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, left)
	require.NoError(t, m.Destroy(TypeClientBuffer, 3))
}

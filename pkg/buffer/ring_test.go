package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_WriteRead(t *testing.T) {
	r := NewRing[int](4)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Write(i))
	}
	assert.Equal(t, 3, r.Size())

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, r.Size())
}

func TestRing_EmptyRead(t *testing.T) {
	r := NewRing[string](2)
	_, ok := r.Read()
	assert.False(t, ok)
	assert.Nil(t, r.ReadBatch(10))
}

func TestRing_DropNewest(t *testing.T) {
	var dropped []int
	r := NewRing[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
	)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	err := r.Write(3)
	assert.Error(t, err)

	// FIFO order preserved, the newest item was the one dropped
	assert.Equal(t, []int{1, 2}, r.ReadBatch(10))
	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, int64(1), r.Stats().Drops)
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	r := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
	)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	assert.Error(t, r.Write(3))

	assert.Equal(t, []int{2, 3}, r.ReadBatch(10))
	assert.Equal(t, []int{1}, dropped)
}

func TestRing_ReadBatchOrder(t *testing.T) {
	r := NewRing[int](8)
	for i := 0; i < 6; i++ {
		require.NoError(t, r.Write(i))
	}

	assert.Equal(t, []int{0, 1, 2}, r.ReadBatch(3))
	require.NoError(t, r.Write(6))
	assert.Equal(t, []int{3, 4, 5, 6}, r.ReadBatch(10))
}

func TestRing_Close(t *testing.T) {
	r := NewRing[int](2)
	require.NoError(t, r.Write(1))
	r.Close()

	assert.Error(t, r.Write(2))
	_, ok := r.Read()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
}

func TestRing_ConcurrentWriters(t *testing.T) {
	r := NewRing[int](1024)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = r.Write(i)
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, int64(800), stats.Writes)
	assert.Equal(t, 800, r.Size())
}

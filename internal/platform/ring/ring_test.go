package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	buf := New[int](3)
	for i := 1; i <= 3; i++ {
		_, dropped := buf.Push(i)
		require.False(t, dropped)
	}
	evicted, dropped := buf.Push(4)
	require.True(t, dropped)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []int{2, 3, 4}, buf.Items())
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, []int{3, 4}, buf.Last(2))
}

func TestBufferReset(t *testing.T) {
	buf := New[string](0)
	assert.Equal(t, 1, buf.Cap())
	buf.Push("a")
	buf.Push("b")
	assert.Equal(t, []string{"b"}, buf.Items())
	buf.Reset()
	assert.Empty(t, buf.Items())
}

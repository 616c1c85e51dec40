package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	require := require.New(t)

	q := New[uint32](2)
	require.True(q.IsEmpty())

	_, ok := q.Dequeue()
	require.False(ok)

	for _, id := range []uint32{0xffffff00, 0xffffff02, 0xffffff04} {
		q.Enqueue(id)
	}
	require.Equal(3, q.Length())
	require.Equal([]uint32{0xffffff00, 0xffffff02, 0xffffff04}, q.Items())

	head, ok := q.Peek()
	require.True(ok)
	require.Equal(uint32(0xffffff00), head)

	item, ok := q.Dequeue()
	require.True(ok)
	require.Equal(uint32(0xffffff00), item)
	require.Equal(2, q.Length())

	q.Reset()
	require.True(q.IsEmpty())
	_, ok = q.Peek()
	require.False(ok)
}

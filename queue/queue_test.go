package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFO(t *testing.T) {
	q := New[int](4)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.True(t, q.Push(3))

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)

	require.Equal(t, 1, q.Len())
}

func TestQueueFullRejectsPush(t *testing.T) {
	q := New[int](2)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))
	require.False(t, q.Push(3))
}

func TestQueueStealTakesFromTail(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	stolen, ok := q.Steal()
	require.True(t, ok)
	require.Equal(t, 3, stolen)

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestQueueDrainReturnsAllInOrder(t *testing.T) {
	q := New[int](8)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	items := q.Drain()
	require.Equal(t, []int{0, 1, 2, 3, 4}, items)
	require.True(t, q.IsEmpty())
}

func TestQueueConcurrentPushPop(t *testing.T) {
	q := New[int](1024)
	var wg sync.WaitGroup

	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				for !q.Push(base*100 + i) {
				}
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, 800, q.Len())

	var popWG sync.WaitGroup
	seen := 0
	var mu sync.Mutex
	popWG.Add(4)
	for c := 0; c < 4; c++ {
		go func() {
			defer popWG.Done()
			for {
				_, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen++
				mu.Unlock()
			}
		}()
	}
	popWG.Wait()
	require.Equal(t, 800, seen)
}

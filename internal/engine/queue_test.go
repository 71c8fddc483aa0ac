package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueFIFO(t *testing.T) {
	q := newTaskQueue()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, q.Enqueue(func() { got = append(got, i) }))
	}
	assert.Equal(t, 3, q.Len())
	for {
		tk, ok := q.TryDequeue()
		if !ok {
			break
		}
		tk()
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestTaskQueueCloseRejectsAndWakes(t *testing.T) {
	q := newTaskQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(func() {}))
	_, open := <-q.Wait()
	assert.False(t, open)
}

func TestTaskQueueConcurrentEnqueue(t *testing.T) {
	q := newTaskQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(func() {})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
}

func TestQuotaEnforcer(t *testing.T) {
	q := NewQuotaEnforcer(2)
	require.NoError(t, q.Check("r"))
	require.NoError(t, q.Check("r"))
	err := q.Check("r")
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))
	assert.Contains(t, err.Error(), "3 steps > 2 limit")
	assert.Equal(t, int64(2), q.Current(), "a refused step is not counted")

	q.Reset()
	assert.Zero(t, q.Current())

	unlimited := NewQuotaEnforcer(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, unlimited.Check("r"))
	}
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7GeneratorOrdered(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

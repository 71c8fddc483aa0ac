package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockSleepAdvances(t *testing.T) {
	c := NewFakeClock()
	assert.Equal(t, Epoch, c.Now())

	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	c.Advance(time.Second)
	assert.Equal(t, Epoch.Add(3*time.Second), c.Now())
	assert.Equal(t, 1, c.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
	assert.Equal(t, Epoch.Add(3*time.Second), c.Now())
}

func TestSequenceIDGeneratorConcurrent(t *testing.T) {
	gen := NewSequenceIDGenerator("")
	assert.Equal(t, "run-1", gen.Generate())

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(gen.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
	assert.Equal(t, "run-52", gen.Generate())
}

func TestRecordingObserver(t *testing.T) {
	o := NewRecordingObserver()
	row := []string{"a"}
	o.RowAdded(row)
	row[0] = "mutated"
	o.LoopProgress("products", 2)
	o.Say("hi")

	require.NoError(t, o.WaitUntilReady(context.Background(), "log in"))
	ok, err := o.ConfirmLargeTrace(context.Background(), 9000)
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, [][]string{{"a"}}, o.Rows)
	assert.Equal(t, 2, o.Progress["products"])
	assert.Equal(t, []string{"hi"}, o.Said)
	assert.Equal(t, []string{"log in"}, o.Dialogs)
	assert.Equal(t, []int{9000}, o.LargeAsks)
	assert.Equal(t, 1, o.RowCount())
}

package taskflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureWaitBlocksUntilComplete(t *testing.T) {
	f := newFuture[int]()
	assert.False(t, f.Done())

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.complete(42, nil)
	}()

	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.Done())
}

func TestFutureWaitPropagatesError(t *testing.T) {
	f := newFuture[int]()
	boom := errors.New("boom")
	f.complete(0, boom)

	_, err := f.Wait()
	assert.Equal(t, boom, err)
}

func TestFutureCompleteIsOneShot(t *testing.T) {
	f := newFuture[int]()
	f.complete(1, nil)
	f.complete(2, errors.New("ignored"))

	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureWaitForTimesOut(t *testing.T) {
	f := newFuture[int]()
	_, status := f.WaitFor(5 * time.Millisecond)
	assert.Equal(t, Timeout, status)
}

func TestFutureWaitForReadyBeforeDeadline(t *testing.T) {
	f := newFuture[int]()
	go f.complete(7, nil)

	v, status := f.WaitFor(time.Second)
	assert.Equal(t, Ready, status)
	assert.Equal(t, 7, v)
}

func TestFutureCancelMarksTopologyCancelled(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	g := NewGraph("cancel-target")
	fut := e.Run(g)
	fut.Cancel()
	_, err := fut.Wait()
	require.NoError(t, err)
	assert.True(t, fut.topo.Cancelled())
}

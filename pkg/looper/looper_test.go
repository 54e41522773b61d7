package looper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooper_RunsTasksInOrder(t *testing.T) {
	l := New(16)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		require.True(t, l.Post(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestLooper_PostFullQueue(t *testing.T) {
	l := New(1)
	assert.True(t, l.Post(func() {}))
	assert.False(t, l.Post(func() {}), "second post must not block on a full queue")
	assert.Equal(t, 1, l.Pending())
}

func TestLooper_TaskPanicIsRecovered(t *testing.T) {
	l := New(4)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	ran := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("looper stopped after a task panic")
	}
}

func TestLooper_StartStop(t *testing.T) {
	l := New(0)
	assert.False(t, l.Running())

	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.Running())
	assert.ErrorIs(t, l.Start(context.Background()), ErrRunning)

	l.Stop()
	l.Stop()
	assert.False(t, l.Running())

	// Restartable.
	require.NoError(t, l.Start(context.Background()))
	l.Stop()
}

func TestLooper_ContextCancel(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

//go:noinline
func blockedInLooperTask(block <-chan struct{}) {
	<-block
}

func TestLooper_StackShowsBlockedTask(t *testing.T) {
	l := New(4)
	assert.Equal(t, "", l.Stack(), "stopped looper has no stack")

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	l.Post(func() {
		close(started)
		blockedInLooperTask(block)
	})
	<-started
	defer close(block)

	assert.Eventually(t, func() bool {
		return strings.Contains(l.Stack(), "blockedInLooperTask")
	}, time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(l.Stack(), "goroutine "))
}

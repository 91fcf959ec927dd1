package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutine(t *testing.T) {
	done := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		done <- GetName(ctx)
	})

	select {
	case name := <-done:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGroup_WaitAndRunning(t *testing.T) {
	// GOAL: Verify Group tracks running goroutines by name and Wait returns after all exit
	//
	// TEST SCENARIO: start 2 blocked workers → Running lists both → release → Wait returns, Running empty
	var g Group
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for _, name := range []string{"a", "b"} {
		g.Go(context.Background(), name, func(ctx context.Context) {
			started <- struct{}{}
			<-release
		})
	}
	<-started
	<-started

	assert.ElementsMatch(t, []string{"a", "b"}, g.Running())

	close(release)
	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait MUST return once all goroutines exit")
	}
	require.Empty(t, g.Running())
}

func TestGetName_Nil(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	assert.Empty(t, GetName(nil))
	assert.Empty(t, GetName(context.Background()))
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	late := c.After(10 * time.Second)
	early := c.After(5 * time.Second)
	require.Equal(t, 2, c.PendingCount())

	c.Advance(5 * time.Second)
	select {
	case at := <-early:
		assert.Equal(t, start.Add(5*time.Second), at)
	default:
		t.Fatal("expected early waiter to fire")
	}
	select {
	case <-late:
		t.Fatal("late waiter fired too soon")
	default:
	}

	c.Advance(5 * time.Second)
	<-late
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeClockImmediateAfter(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("non-positive duration should fire immediately")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeClockWaitForTimers(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})

	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeping goroutine was not released")
	}
}

func TestFakeClockSet(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ch := c.After(time.Hour)
	c.Set(time.Unix(0, 0).Add(2 * time.Hour))
	<-ch
	assert.Equal(t, time.Unix(0, 0).Add(2*time.Hour), c.Now())
}

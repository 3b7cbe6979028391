package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	c := NewManual(epoch)
	var order []int
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })

	c.Advance(250 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("after 250ms fired %v, want [1 2]", order)
	}
	if got := c.Now().Sub(epoch); got != 250*time.Millisecond {
		t.Errorf("Now advanced by %v, want 250ms", got)
	}

	c.Advance(time.Second)
	if len(order) != 3 {
		t.Fatalf("fired %v, want all three", order)
	}
}

func TestManualTimerSeesDeadlineAsNow(t *testing.T) {
	c := NewManual(epoch)
	var at time.Time
	c.AfterFunc(time.Second, func() { at = c.Now() })
	c.Advance(5 * time.Second)
	if !at.Equal(epoch.Add(time.Second)) {
		t.Errorf("callback saw Now = %v, want deadline", at)
	}
}

func TestManualStop(t *testing.T) {
	c := NewManual(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("first Stop should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestManualChainedTimers(t *testing.T) {
	c := NewManual(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 5 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)
	c.Advance(100 * time.Millisecond)
	if count != 5 {
		t.Errorf("chained timers fired %d times, want 5", count)
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}

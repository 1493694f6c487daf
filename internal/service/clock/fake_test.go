package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake()
	var order []int

	c.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 2) })

	c.Advance(20 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
	if c.Now() != 20*time.Millisecond {
		t.Errorf("expected now 20ms, got %v", c.Now())
	}

	c.Advance(10 * time.Millisecond)
	if len(order) != 3 {
		t.Errorf("expected third timer to fire, got %v", order)
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake()
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Error("expected Stop to report a pending timer")
	}
	if timer.Stop() {
		t.Error("expected second Stop to return false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Error("expected stopped timer not to fire")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFake_TimerScheduledFromCallback(t *testing.T) {
	c := NewFake()
	var at time.Duration

	c.AfterFunc(10*time.Millisecond, func() {
		c.AfterFunc(5*time.Millisecond, func() { at = c.Now() })
	})

	c.Advance(100 * time.Millisecond)
	if at != 15*time.Millisecond {
		t.Errorf("expected nested timer at 15ms, got %v", at)
	}
}

func TestSystem_NowIsMonotonic(t *testing.T) {
	c := NewSystem()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Errorf("expected monotonic time, got %v then %v", a, b)
	}
}

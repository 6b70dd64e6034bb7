package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	start := time.Now()
	<-clock.After(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("After fired after %v, expected >= 5ms", elapsed)
	}

	select {
	case <-clock.After(-time.Hour):
	case <-time.After(time.Second):
		t.Error("negative After did not fire")
	}
}

func TestMockClock_AfterAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if got := <-clock.After(33 * time.Millisecond); !got.Equal(start.Add(33 * time.Millisecond)) {
		t.Errorf("After delivered %v", got)
	}
	<-clock.After(0)
	<-clock.After(-time.Second)
	<-clock.After(34 * time.Millisecond)

	waits := clock.Waits()
	if len(waits) != 2 {
		t.Fatalf("expected 2 recorded waits, got %d", len(waits))
	}
	if waits[0] != 33*time.Millisecond || waits[1] != 34*time.Millisecond {
		t.Errorf("unexpected waits %v", waits)
	}
	if got := clock.Waited(); got != 67*time.Millisecond {
		t.Errorf("Waited() = %v, want 67ms", got)
	}
	if got := clock.Since(start); got != 67*time.Millisecond {
		t.Errorf("Since(start) = %v, want 67ms", got)
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.Advance(time.Minute)
	if got := clock.Now(); !got.Equal(time.Unix(60, 0)) {
		t.Errorf("Now() after Advance = %v", got)
	}

	target := time.Unix(1000, 0)
	clock.Set(target)
	if got := clock.Now(); !got.Equal(target) {
		t.Errorf("Now() after Set = %v, want %v", got, target)
	}
	if len(clock.Waits()) != 0 {
		t.Error("Advance and Set should not record waits")
	}
}

func TestMockClock_Concurrent(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				<-clock.After(time.Millisecond)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()
	if got := clock.Waited(); got != 800*time.Millisecond {
		t.Errorf("Waited() = %v, want 800ms", got)
	}
}

var _ Clock = RealClock{}
var _ Clock = (*MockClock)(nil)

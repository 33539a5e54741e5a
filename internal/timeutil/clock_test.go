package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClockMonotonic(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	time.Sleep(time.Millisecond)
	if d := c.Since(start); d < time.Millisecond {
		t.Errorf("Since() = %v, want >= 1ms", d)
	}
}

func TestMockClockOnlyMovesWhenTold(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewMockClock(start)

	if got := c.Since(start); got != 0 {
		t.Errorf("Since() before Advance = %v, want 0", got)
	}
	if got := c.Advance(100 * time.Millisecond); !got.Equal(start.Add(100 * time.Millisecond)) {
		t.Errorf("Advance() = %v", got)
	}
	if got := c.Since(start); got != 100*time.Millisecond {
		t.Errorf("Since() = %v, want 100ms", got)
	}

	c.Set(start.Add(-time.Second))
	if got := c.Since(start); got != -time.Second {
		t.Errorf("Since() after Set backwards = %v, want -1s", got)
	}
}

func TestMockClockConcurrentAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMockClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(10 * time.Millisecond)
		}()
	}
	wg.Wait()
	if got := c.Since(start); got != 100*time.Millisecond {
		t.Errorf("Since() = %v, want 100ms", got)
	}
}

func TestStampConversions(t *testing.T) {
	tests := []struct {
		name  string
		stamp float64
	}{
		{"whole seconds", 1700000000},
		{"fractional", 1700000000.25},
		{"small", 12.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeToStamp(StampToTime(tt.stamp))
			if diff := got - tt.stamp; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("round trip of %f = %f", tt.stamp, got)
			}
		})
	}

	if !StampToTime(0).IsZero() {
		t.Error("StampToTime(0) should be the zero time")
	}
	if TimeToStamp(time.Time{}) != 0 {
		t.Error("TimeToStamp(zero) should be 0")
	}
	if d := StampDuration(10, 10.1); d < 99*time.Millisecond || d > 101*time.Millisecond {
		t.Errorf("StampDuration(10, 10.1) = %v, want ~100ms", d)
	}
}

package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	c := NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 7, 50} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	l := NewLinear(2*time.Second, 7*time.Second)
	want := map[int]time.Duration{0: 2 * time.Second, 1: 2 * time.Second, 3: 6 * time.Second, 4: 7 * time.Second, 100: 7 * time.Second}
	for attempt, d := range want {
		if got := l.Delay(attempt); got != d {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestExponential(t *testing.T) {
	e := NewExponential(time.Second, 10*time.Minute)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 512 * time.Second},
		{11, 10 * time.Minute},
		{10_000, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_UncappedSaturates(t *testing.T) {
	e := NewExponential(time.Hour, 0)
	if got := e.Delay(200); got != maxDuration {
		t.Errorf("Delay(200) = %v, want saturation at %v", got, maxDuration)
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := NewExponentialWithJitter(time.Second, 10*time.Minute, 0.2)
	for attempt := 1; attempt <= 15; attempt++ {
		base := doubling(time.Second, 10*time.Minute, attempt)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		for range 50 {
			if got := e.Delay(attempt); got < lo || got > hi {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestExponentialWithJitter_Extremes(t *testing.T) {
	e := NewExponentialWithJitter(time.Second, time.Minute, 0.5)

	e.rand = func() float64 { return 0 }
	if got := e.Delay(3); got != 2*time.Second {
		t.Errorf("lowest draw: Delay(3) = %v, want 2s", got)
	}
	e.rand = func() float64 { return 0.5 }
	if got := e.Delay(3); got != 4*time.Second {
		t.Errorf("middle draw: Delay(3) = %v, want 4s", got)
	}
}

func TestExponentialWithJitter_Clamp(t *testing.T) {
	if e := NewExponentialWithJitter(time.Second, 0, -1); e.Jitter != 0 {
		t.Errorf("negative jitter clamped to %v", e.Jitter)
	}
	if e := NewExponentialWithJitter(time.Second, 0, 3); e.Jitter != 1 {
		t.Errorf("large jitter clamped to %v", e.Jitter)
	}
	e := NewExponentialWithJitter(time.Second, 0, 0)
	if got := e.Delay(4); got != 8*time.Second {
		t.Errorf("zero jitter: Delay(4) = %v", got)
	}
}

func TestFunc(t *testing.T) {
	var s Strategy = Func(func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond })
	if got := s.Delay(3); got != 3*time.Millisecond {
		t.Errorf("Delay(3) = %v", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	e, ok := DefaultStrategy().(*ExponentialWithJitter)
	if !ok {
		t.Fatalf("DefaultStrategy is %T", DefaultStrategy())
	}
	if e.Base != time.Second || e.Max != 10*time.Minute || e.Jitter != 0.2 {
		t.Errorf("unexpected default %+v", e)
	}
}

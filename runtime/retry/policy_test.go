package retry

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Minute}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := policy.Backoff(attempt); got != want[attempt-1] {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, want[attempt-1])
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	if got := policy.Backoff(10); got != 3*time.Second {
		t.Fatalf("Backoff(10) = %s, want cap 3s", got)
	}
}

func TestNormalizePolicyDefaults(t *testing.T) {
	p := NormalizePolicy(Policy{})
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %s, want 1s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		t.Error("MaxDelay must be >= BaseDelay")
	}
}

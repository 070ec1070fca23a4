package authapi

import (
	"net"
	"testing"
	"time"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	if blocked {
		t.Fatalf("expected window throttle to allow")
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ShortTier(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-3 * time.Minute),
		now.Add(-4 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected short-tier lockout")
	}
	if retry != 4*time.Minute+30*time.Second {
		t.Fatalf("unexpected retry duration: %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ClearsAfterDuration(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-6 * time.Minute),
		now.Add(-7 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-9 * time.Minute),
		now.Add(-10 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if blocked {
		t.Fatalf("expected lockout to clear, retry=%v", retry)
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_SevereTierWins(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected severe-tier lockout")
	}

	want := failures[0].Add(2 * time.Hour).Sub(now)
	if retry != want {
		t.Fatalf("expected retry=%v, got %v", want, retry)
	}
}

func TestExchangeLimiter_WindowAndLockout(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ip := net.ParseIP("203.0.113.7")
	other := net.ParseIP("203.0.113.8")

	l := newExchangeLimiter(2, time.Minute)
	if ok, _ := l.allow(ip, now); !ok {
		t.Fatalf("first attempt should pass")
	}
	if ok, _ := l.allow(ip, now.Add(10*time.Second)); !ok {
		t.Fatalf("second attempt should pass")
	}
	ok, retry := l.allow(ip, now.Add(20*time.Second))
	if ok {
		t.Fatalf("third attempt inside the window should be throttled")
	}
	if retry != 40*time.Second {
		t.Fatalf("expected retry=40s, got %v", retry)
	}
	if ok, _ := l.allow(other, now.Add(20*time.Second)); !ok {
		t.Fatalf("other IPs are counted separately")
	}
	if ok, _ := l.allow(ip, now.Add(61*time.Second)); !ok {
		t.Fatalf("attempt after the window should pass")
	}

	l = newExchangeLimiter(100, time.Minute)
	for i := 0; i < 5; i++ {
		l.fail(ip, now)
	}
	ok, retry = l.allow(ip, now.Add(time.Minute))
	if ok {
		t.Fatalf("expected lockout after five failures")
	}
	if retry != 4*time.Minute {
		t.Fatalf("expected retry=4m, got %v", retry)
	}
	if ok, _ := l.allow(ip, now.Add(6*time.Minute)); !ok {
		t.Fatalf("lockout should clear after its duration")
	}
}

func TestExchangeLimiter_NilIPAllowed(t *testing.T) {
	l := newExchangeLimiter(1, time.Minute)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if ok, _ := l.allow(nil, now); !ok {
			t.Fatalf("unknown client IPs are not throttled")
		}
	}
}

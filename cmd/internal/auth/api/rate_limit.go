package authapi

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

var defaultLockoutTiers = []lockoutTier{
	{Threshold: 20, Duration: 2 * time.Hour},
	{Threshold: 10, Duration: 30 * time.Minute},
	{Threshold: 5, Duration: 5 * time.Minute},
}

// exchangeLimiter throttles token exchanges per client IP. Every attempt counts
// toward a sliding window; failed attempts additionally feed a progressive lockout.
type exchangeLimiter struct {
	max    int
	window time.Duration
	tiers  []lockoutTier

	mu       sync.Mutex
	attempts map[string][]time.Time
	failures map[string][]time.Time
}

func newExchangeLimiter(max int, window time.Duration) *exchangeLimiter {
	return &exchangeLimiter{
		max:      max,
		window:   window,
		tiers:    defaultLockoutTiers,
		attempts: make(map[string][]time.Time),
		failures: make(map[string][]time.Time),
	}
}

// allow reports whether ip may attempt an exchange at now. When it may, the
// attempt is recorded.
func (l *exchangeLimiter) allow(ip net.IP, now time.Time) (bool, time.Duration) {
	if l == nil || ip == nil || l.max <= 0 {
		return true, 0
	}
	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts[key] = prune(l.attempts[key], now.Add(-l.window))
	l.failures[key] = prune(l.failures[key], now.Add(-l.lockoutHorizon()))

	if blocked, retry := evaluateProgressiveLockout(now, l.failures[key], l.tiers); blocked {
		return false, retry
	}
	if blocked, retry := evaluateWindowThrottle(now, l.attempts[key], l.max, l.window); blocked {
		return false, retry
	}
	l.attempts[key] = append(l.attempts[key], now)
	return true, 0
}

func (l *exchangeLimiter) fail(ip net.IP, now time.Time) {
	if l == nil || ip == nil {
		return
	}
	key := ip.String()
	l.mu.Lock()
	l.failures[key] = append(l.failures[key], now)
	l.mu.Unlock()
}

func (l *exchangeLimiter) lockoutHorizon() time.Duration {
	var d time.Duration
	for _, t := range l.tiers {
		if t.Duration > d {
			d = t.Duration
		}
	}
	return d
}

func prune(events []time.Time, cut time.Time) []time.Time {
	out := events[:0]
	for _, ts := range events {
		if ts.After(cut) {
			out = append(out, ts)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// evaluateWindowThrottle blocks once max events fall inside window. The retry
// delay is the time until the oldest counted event leaves the window.
func evaluateWindowThrottle(now time.Time, events []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var inWindow []time.Time
	for _, ts := range events {
		if ts.After(cut) && !ts.After(now) {
			inWindow = append(inWindow, ts)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	// The window reopens when enough events expire to drop below max.
	pivot := inWindow[len(inWindow)-max]
	return true, pivot.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the most severe tier whose threshold is
// reached. Lockouts run from the latest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, ts := range failures[1:] {
		if ts.After(latest) {
			latest = ts
		}
	}

	var retry time.Duration
	for _, t := range tiers {
		if t.Threshold <= 0 || len(failures) < t.Threshold {
			continue
		}
		if d := latest.Add(t.Duration).Sub(now); d > retry {
			retry = d
		}
	}
	return retry > 0, retry
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

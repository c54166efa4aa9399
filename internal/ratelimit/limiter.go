// Package ratelimit enforces the relay's per-connection message budgets
// with rolling windows: a strict pre-admission budget, a post-admission
// global budget, and per-type budgets for high-frequency message classes.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate check.
type Decision int

const (
	// Allow lets the message through.
	Allow Decision = iota

	// Reject surfaces RATE_LIMITED and drops the message.
	Reject

	// Close terminates the connection (pre-admission flood).
	Close
)

// Budget is a rolling-window allowance.
type Budget struct {
	Max    int
	Window time.Duration
}

// Limits configures a connection's limiter.
type Limits struct {
	PreAuth  Budget
	PostAuth Budget
	PerType  map[string]Budget
}

// window tracks event timestamps inside a rolling interval. Budgets are
// small (tens of events) so a pruned slice beats a counting bucket on
// accuracy without costing memory.
type window struct {
	times []time.Time
}

func (w *window) take(b Budget, now time.Time) bool {
	cutoff := now.Add(-b.Window)
	keep := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.times = keep

	if len(w.times) >= b.Max {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// ConnLimiter is the per-connection limiter. It is safe for concurrent use
// although in practice a connection's read loop is its only caller.
type ConnLimiter struct {
	mu       sync.Mutex
	limits   Limits
	admitted bool

	preauth window
	global  window
	perType map[string]*window
}

// New creates a limiter in the pre-admission state.
func New(limits Limits) *ConnLimiter {
	return &ConnLimiter{
		limits:  limits,
		perType: make(map[string]*window),
	}
}

// Admit switches the limiter to post-admission budgets.
func (l *ConnLimiter) Admit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitted = true
}

// Check applies the budgets for one inbound message of the given type.
func (l *ConnLimiter) Check(msgType string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.admitted {
		if !l.preauth.take(l.limits.PreAuth, now) {
			return Close
		}
		return Allow
	}

	if !l.global.take(l.limits.PostAuth, now) {
		return Reject
	}

	if budget, ok := l.limits.PerType[msgType]; ok {
		w := l.perType[msgType]
		if w == nil {
			w = &window{}
			l.perType[msgType] = w
		}
		if !w.take(budget, now) {
			return Reject
		}
	}

	return Allow
}

// IPGate caps concurrent connections per source address.
type IPGate struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

// NewIPGate creates a gate allowing max concurrent connections per IP.
// max <= 0 disables the cap.
func NewIPGate(max int) *IPGate {
	return &IPGate{counts: make(map[string]int), max: max}
}

// Acquire reserves a slot for ip. The caller must Release on disconnect.
func (g *IPGate) Acquire(ip string) bool {
	if g.max <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts[ip] >= g.max {
		return false
	}
	g.counts[ip]++
	return true
}

// Release frees a slot for ip.
func (g *IPGate) Release(ip string) {
	if g.max <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts[ip] <= 1 {
		delete(g.counts, ip)
		return
	}
	g.counts[ip]--
}

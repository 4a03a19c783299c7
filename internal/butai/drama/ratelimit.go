package drama

import (
	"sync"
	"time"
)

const (
	// DefaultTurnLimit is the number of turns a correspondent may start per
	// window when no limit is configured.
	DefaultTurnLimit = 20

	defaultTurnWindow = time.Minute
)

// TurnLimiter caps how many turns each correspondent may start within a
// sliding window. A turn can cost several completion calls, so floods are
// cut off before they reach the generation service.
type TurnLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	rings map[string]*turnRing
}

// turnRing holds the start times of a correspondent's last limit turns.
// The slot at next is the oldest once the ring is full.
type turnRing struct {
	at   []time.Time
	next int
	full bool
}

// NewTurnLimiter allows at most limit turns per correspondent within window.
// Non-positive values use DefaultTurnLimit and one minute.
func NewTurnLimiter(limit int, window time.Duration) *TurnLimiter {
	if limit <= 0 {
		limit = DefaultTurnLimit
	}
	if window <= 0 {
		window = defaultTurnWindow
	}
	return &TurnLimiter{limit: limit, window: window, now: time.Now, rings: map[string]*turnRing{}}
}

// Allow counts a turn for who, unless who has already used the limit in
// the current window. Refused turns are not counted.
func (l *TurnLimiter) Allow(who string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	r := l.rings[who]
	if r == nil {
		r = &turnRing{at: make([]time.Time, l.limit)}
		l.rings[who] = r
	}
	if r.full && now.Sub(r.at[r.next]) < l.window {
		return false
	}
	r.at[r.next] = now
	r.next = (r.next + 1) % l.limit
	if r.next == 0 {
		r.full = true
	}
	return true
}

// Remaining reports how many turns who may still start in the current
// window.
func (l *TurnLimiter) Remaining(who string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.rings[who]
	if r == nil {
		return l.limit
	}
	used := r.next
	if r.full {
		used = l.limit
	}
	now := l.now()
	recent := 0
	for _, t := range r.at[:used] {
		if now.Sub(t) < l.window {
			recent++
		}
	}
	return l.limit - recent
}

// Forget drops who's history.
func (l *TurnLimiter) Forget(who string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rings, who)
}

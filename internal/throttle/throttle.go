package throttle

import (
	"sync"
	"time"
)

type entry struct {
	client string
	when   time.Time
}

// Gate is a sliding-window limiter over recent requests per client. A
// ceiling of zero disables it.
type Gate struct {
	ceiling int
	window  time.Duration

	now func() time.Time

	locker sync.Mutex
	queue  []entry
}

func NewGate(ceiling int, window time.Duration) *Gate {
	return &Gate{ceiling: ceiling, window: window, now: time.Now}
}

// Allow expires entries older than the window, counts the remaining
// ones for the client and admits the request unless the count would
// reach the ceiling. Rejected requests are not recorded.
func (g *Gate) Allow(client string) bool {
	if g.ceiling == 0 {
		return true
	}

	now := g.now()

	g.locker.Lock()
	defer g.locker.Unlock()

	cutoff := now.Add(-g.window)
	expired := 0
	for expired < len(g.queue) && g.queue[expired].when.Before(cutoff) {
		expired++
	}
	g.queue = g.queue[expired:]

	count := 0
	for i := range g.queue {
		if g.queue[i].client == client {
			count++
		}
	}
	if count >= g.ceiling {
		return false
	}
	g.queue = append(g.queue, entry{client: client, when: now})
	return true
}

// SetClock injects a deterministic clock. Test hook.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

package notify

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/totegamma/attendance-tracker"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 5 * time.Second

// Queue is a single-slot notification surface. A new notification replaces
// the current one; expiry is a timestamp the reader checks, not a timer.
type Queue struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	current tracker.Notification
	feed    event.Feed
}

func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) Show(message string, severity tracker.Severity) tracker.Notification {
	q.mu.Lock()
	n := tracker.Notification{
		Message:   message,
		Severity:  severity,
		ExpiresAt: q.now().Add(q.ttl),
	}
	q.current = n
	q.mu.Unlock()

	q.feed.Send(n)
	return n
}

func (q *Queue) Dismiss() {
	q.mu.Lock()
	q.current = tracker.Notification{}
	q.mu.Unlock()

	q.feed.Send(tracker.Notification{})
}

// Current returns the live notification, if any.
func (q *Queue) Current() (tracker.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.current.Live(q.now()) {
		return tracker.Notification{}, false
	}
	return q.current, true
}

// Subscribe delivers every shown notification, and an empty one on
// dismissal. Slow subscribers block Show, so ch should be buffered.
func (q *Queue) Subscribe(ch chan<- tracker.Notification) event.Subscription {
	return q.feed.Subscribe(ch)
}

package notify

import (
	"testing"
	"time"

	"github.com/totegamma/attendance-tracker"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestQueueExpires(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(0)
	q.SetClock(clock.Now)

	q.Show("Profile created successfully!", tracker.SeveritySuccess)

	n, ok := q.Current()
	if !ok || n.Message != "Profile created successfully!" {
		t.Fatalf("expected live notification, got %+v %v", n, ok)
	}
	if !n.ExpiresAt.Equal(clock.t.Add(DefaultTTL)) {
		t.Fatalf("unexpected expiry %s", n.ExpiresAt)
	}

	clock.Advance(DefaultTTL - time.Millisecond)
	if _, ok := q.Current(); !ok {
		t.Fatalf("expected notification to still be live")
	}
	clock.Advance(time.Millisecond)
	if _, ok := q.Current(); ok {
		t.Fatalf("expected notification to have expired")
	}
}

func TestQueueSupersedes(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(5 * time.Second)
	q.SetClock(clock.Now)

	q.Show("first", tracker.SeverityError)
	clock.Advance(4 * time.Second)
	q.Show("second", tracker.SeverityWarning)
	clock.Advance(2 * time.Second)

	n, ok := q.Current()
	if !ok || n.Message != "second" || n.Severity != tracker.SeverityWarning {
		t.Fatalf("expected second notification to win, got %+v %v", n, ok)
	}
}

func TestQueueDismiss(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Show("x", tracker.SeveritySuccess)
	q.Dismiss()
	if _, ok := q.Current(); ok {
		t.Fatalf("expected no notification after dismiss")
	}
}

func TestQueueSubscribe(t *testing.T) {
	q := NewQueue(time.Minute)
	ch := make(chan tracker.Notification, 2)
	sub := q.Subscribe(ch)
	defer sub.Unsubscribe()

	q.Show("hello", tracker.SeveritySuccess)
	q.Dismiss()

	if n := <-ch; n.Message != "hello" {
		t.Fatalf("expected hello, got %+v", n)
	}
	if n := <-ch; n.Message != "" {
		t.Fatalf("expected empty dismissal, got %+v", n)
	}
}

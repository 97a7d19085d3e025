package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
)

var (
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type mockLedger struct {
	mu sync.Mutex

	admin common.Address
	users map[common.Address]tracker.UserRecord
	marks map[common.Address]map[int64]bool

	adminErr error
	userErr  error
	writeErr error

	// userHook runs before users() answers, outside the lock.
	userHook func(addr common.Address)

	calls map[string]int
}

func newMockLedger(admin common.Address) *mockLedger {
	return &mockLedger{
		admin: admin,
		users: map[common.Address]tracker.UserRecord{},
		marks: map[common.Address]map[int64]bool{},
		calls: map[string]int{},
	}
}

func (l *mockLedger) count(op string) {
	l.mu.Lock()
	l.calls[op]++
	l.mu.Unlock()
}

func (l *mockLedger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *mockLedger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

func (l *mockLedger) writes() int {
	return l.Calls("createProfile") + l.Calls("markAttendance") + l.Calls("modifyAttendance") + l.Calls("evictUser")
}

func (l *mockLedger) Admin(ctx context.Context) (common.Address, error) {
	l.count("admin")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.adminErr != nil {
		return common.Address{}, l.adminErr
	}
	return l.admin, nil
}

func (l *mockLedger) User(ctx context.Context, addr common.Address) (tracker.UserRecord, error) {
	l.count("users")
	if l.userHook != nil {
		l.userHook(addr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.userErr != nil {
		return tracker.UserRecord{}, l.userErr
	}
	return l.users[addr], nil
}

func (l *mockLedger) CheckAttendance(ctx context.Context, subject common.Address, ts int64) (bool, error) {
	l.count("checkAttendance")
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks[subject][ts], nil
}

func (l *mockLedger) CreateProfile(ctx context.Context, from common.Address, profile tracker.Profile) error {
	l.count("createProfile")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.users[from] = tracker.UserRecord{Profile: profile, Registered: true}
	return nil
}

func (l *mockLedger) mark(subject common.Address, ts int64, present bool) {
	if l.marks[subject] == nil {
		l.marks[subject] = map[int64]bool{}
	}
	l.marks[subject][ts] = present
}

func (l *mockLedger) MarkAttendance(ctx context.Context, from common.Address, ts int64) error {
	l.count("markAttendance")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.mark(from, ts, true)
	return nil
}

func (l *mockLedger) ModifyAttendance(ctx context.Context, from, subject common.Address, ts int64, present bool) error {
	l.count("modifyAttendance")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.mark(subject, ts, present)
	return nil
}

func (l *mockLedger) EvictUser(ctx context.Context, from, subject common.Address) error {
	l.count("evictUser")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	delete(l.users, subject)
	return nil
}

type mockWallet struct {
	active common.Address
	err    error
	hints  []*common.Address
	feed   event.Feed
}

func (w *mockWallet) RequestActiveIdentity(ctx context.Context, hint *common.Address) (common.Address, error) {
	w.hints = append(w.hints, hint)
	if w.err != nil {
		return common.Address{}, w.err
	}
	return w.active, nil
}

func (w *mockWallet) SubscribeIdentityChanged(ch chan<- common.Address) event.Subscription {
	return w.feed.Subscribe(ch)
}

type mockHints struct {
	addr  common.Address
	ok    bool
	saved []common.Address
}

func (h *mockHints) LoadHint(ctx context.Context) (common.Address, bool, error) {
	return h.addr, h.ok, nil
}

func (h *mockHints) SaveHint(ctx context.Context, addr common.Address) error {
	h.saved = append(h.saved, addr)
	h.addr, h.ok = addr, true
	return nil
}

type mockNotifier struct {
	mu    sync.Mutex
	shown []tracker.Notification
}

func (n *mockNotifier) Show(message string, severity tracker.Severity) tracker.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	note := tracker.Notification{Message: message, Severity: severity, ExpiresAt: time.Now().Add(time.Minute)}
	n.shown = append(n.shown, note)
	return note
}

func (n *mockNotifier) All() []tracker.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]tracker.Notification(nil), n.shown...)
}

func (n *mockNotifier) Count(severity tracker.Severity) int {
	c := 0
	for _, note := range n.All() {
		if note.Severity == severity {
			c++
		}
	}
	return c
}

func (n *mockNotifier) Reset() {
	n.mu.Lock()
	n.shown = nil
	n.mu.Unlock()
}

// testSchedule runs ten weeks from Monday 2024-01-01 on Sun, Thu, Fri and Sat.
func testSchedule() domain.CourseSchedule {
	s, err := domain.NewCourseSchedule(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		10,
		[]time.Weekday{time.Sunday, time.Thursday, time.Friday, time.Saturday},
	)
	if err != nil {
		panic(err)
	}
	return s
}

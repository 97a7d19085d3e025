package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
)

var (
	sessionTracer = otel.Tracer("session")
	sessionLog    = log.New("session")
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Error"
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a consistent snapshot of the session state.
type Session struct {
	State         ConnState       `json:"state"`
	Identity      *common.Address `json:"identity,omitempty"`
	ShortIdentity string          `json:"shortIdentity,omitempty"`
	domain.RoleView
	Registered  bool   `json:"registered"`
	SignedIn    bool   `json:"signedIn"`
	ConfigError string `json:"configError,omitempty"`
	Epoch       uint64 `json:"-"`
}

// SessionEvent is sent whenever the snapshot may have changed.
type SessionEvent struct {
	Epoch  uint64
	Reason string
}

// acting is the identity an action runs as, captured atomically.
type acting struct {
	identity common.Address
	view     domain.RoleView
	epoch    uint64
}

// SessionManager owns the identity and role state machine. Role fields
// are only ever set from ledger reads or confirmed writes, and every
// identity change bumps the epoch so results for a previous identity are
// dropped.
type SessionManager struct {
	wallet   Wallet
	ledger   LedgerGateway
	hints    IdentityHintStore
	notifier Notifier

	mu        sync.Mutex
	state     ConnState
	identity  *common.Address
	admin     *common.Address
	user      *tracker.UserRecord
	signedIn  bool
	epoch     uint64
	configErr error

	// roleGen counts role-affecting writes ever started; roleInFlight is
	// how many are running now.
	roleGen      uint64
	roleInFlight int

	feed event.Feed
}

// NewSessionManager builds a session manager. wallet may be nil, in which
// case the session stays disconnected with a configuration error. hints
// may be nil.
func NewSessionManager(wallet Wallet, ledger LedgerGateway, hints IdentityHintStore, notifier Notifier) *SessionManager {
	return &SessionManager{
		wallet:   wallet,
		ledger:   ledger,
		hints:    hints,
		notifier: notifier,
	}
}

func (m *SessionManager) Subscribe(ch chan<- SessionEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *SessionManager) emit(epoch uint64, reason string) {
	m.feed.Send(SessionEvent{Epoch: epoch, Reason: reason})
}

func (m *SessionManager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *SessionManager) snapshotLocked() Session {
	view := domain.DeriveRole(m.identity, m.admin, m.user, m.signedIn)
	s := Session{
		State:      m.state,
		RoleView:   view,
		Registered: view.Registered(),
		SignedIn:   view.Role == domain.RoleSignedIn,
		Epoch:      m.epoch,
	}
	if m.identity != nil {
		id := *m.identity
		s.Identity = &id
		s.ShortIdentity = tracker.ShortAddress(id)
	}
	if m.configErr != nil {
		s.ConfigError = m.configErr.Error()
	}
	return s
}

// Connect acquires the active identity from the wallet and resolves its
// role. Calling it while connected is a no-op.
func (m *SessionManager) Connect(ctx context.Context) error {
	ctx, span := sessionTracer.Start(ctx, "Session.Usecase.Connect")
	defer span.End()

	m.mu.Lock()
	if m.configErr != nil {
		err := m.configErr
		m.mu.Unlock()
		return err
	}
	if m.wallet == nil {
		m.configErr = domain.ConfigurationError{Reason: "no wallet provider available"}
		err := m.configErr
		ep := m.epoch
		m.mu.Unlock()
		span.RecordError(err)
		sessionLog.Errorf("connect: %v", err)
		m.notifier.Show("Please install a wallet to use this application", tracker.SeverityError)
		m.emit(ep, "configuration")
		return err
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.epoch++
	ep := m.epoch
	m.state = StateConnecting
	m.mu.Unlock()
	m.emit(ep, "connecting")

	var hint *common.Address
	if m.hints != nil {
		addr, ok, err := m.hints.LoadHint(ctx)
		if err != nil {
			sessionLog.Warnf("load identity hint: %v", err)
		} else if ok {
			hint = &addr
		}
	}

	addr, err := m.wallet.RequestActiveIdentity(ctx, hint)
	if err == nil && addr == (common.Address{}) {
		err = domain.ValidationError{Field: "identity", Reason: "the wallet has no account available"}
	}
	if err != nil {
		m.mu.Lock()
		if m.epoch == ep {
			m.state = StateDisconnected
		}
		m.mu.Unlock()
		span.RecordError(err)
		sessionLog.Errorf("connect: %v", err)
		m.notifier.Show("Failed to connect to the blockchain", tracker.SeverityError)
		m.emit(ep, "disconnected")
		if !errors.Is(err, domain.ErrValidation) {
			err = domain.RemoteReadError{Op: "requestActiveIdentity", Err: err}
		}
		return err
	}

	if !m.enter(ctx, addr, ep) {
		return nil
	}
	return m.loadRole(ctx, ep)
}

// enter moves to Connected for addr if ep is still current.
func (m *SessionManager) enter(ctx context.Context, addr common.Address, ep uint64) bool {
	m.mu.Lock()
	if m.epoch != ep {
		m.mu.Unlock()
		return false
	}
	m.state = StateConnected
	m.identity = &addr
	m.mu.Unlock()
	m.emit(ep, "connected")

	if m.hints != nil {
		if err := m.hints.SaveHint(ctx, addr); err != nil {
			sessionLog.Warnf("save identity hint: %v", err)
		}
	}
	return true
}

// switchIdentity discards every piece of role state and returns the new
// epoch. It runs before anything else reacts to the change.
func (m *SessionManager) switchIdentity(addr common.Address) (uint64, bool) {
	m.mu.Lock()
	if m.state == StateDisconnected && m.identity == nil {
		m.mu.Unlock()
		return 0, false
	}
	m.epoch++
	ep := m.epoch
	m.identity = nil
	m.admin = nil
	m.user = nil
	m.signedIn = false
	if addr == (common.Address{}) {
		m.state = StateDisconnected
	} else {
		m.state = StateConnecting
	}
	m.mu.Unlock()
	m.emit(ep, "identity changed")
	return ep, addr != (common.Address{})
}

// HandleIdentityChanged reacts to a wallet-originated identity switch and
// resolves the role of the new identity before returning.
func (m *SessionManager) HandleIdentityChanged(ctx context.Context, addr common.Address) error {
	ctx, span := sessionTracer.Start(ctx, "Session.Usecase.HandleIdentityChanged")
	defer span.End()

	ep, ok := m.switchIdentity(addr)
	if !ok {
		return nil
	}
	if !m.enter(ctx, addr, ep) {
		return nil
	}
	return m.loadRole(ctx, ep)
}

// Run follows wallet identity changes until ctx is done.
func (m *SessionManager) Run(ctx context.Context) error {
	if m.wallet == nil {
		return domain.ConfigurationError{Reason: "no wallet provider available"}
	}
	ch := make(chan common.Address, 8)
	sub := m.wallet.SubscribeIdentityChanged(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case addr := <-ch:
			ep, ok := m.switchIdentity(addr)
			if !ok {
				continue
			}
			go func() {
				if !m.enter(ctx, addr, ep) {
					return
				}
				if err := m.loadRole(ctx, ep); err != nil {
					sessionLog.Warnf("resolve role for %s: %v", addr.Hex(), err)
				}
			}()
		}
	}
}

// Refresh re-reads the role of the current identity. It is the only retry
// path after a failed read.
func (m *SessionManager) Refresh(ctx context.Context) error {
	ctx, span := sessionTracer.Start(ctx, "Session.Usecase.Refresh")
	defer span.End()

	m.mu.Lock()
	if m.state != StateConnected || m.identity == nil {
		m.mu.Unlock()
		err := domain.ValidationError{Field: "identity", Reason: "Connect a wallet first"}
		m.notifier.Show(err.Reason, tracker.SeverityError)
		return err
	}
	ep := m.epoch
	m.mu.Unlock()
	return m.loadRole(ctx, ep)
}

func (m *SessionManager) loadRole(ctx context.Context, ep uint64) error {
	m.mu.Lock()
	if m.epoch != ep || m.identity == nil {
		m.mu.Unlock()
		return nil
	}
	identity := *m.identity
	mark := m.roleMarkLocked()
	m.mu.Unlock()

	var admin common.Address
	var user tracker.UserRecord
	var adminErr, userErr error
	var g errgroup.Group
	g.Go(func() error {
		admin, adminErr = m.ledger.Admin(ctx)
		return nil
	})
	g.Go(func() error {
		user, userErr = m.ledger.User(ctx, identity)
		return nil
	})
	_ = g.Wait()

	m.mu.Lock()
	if m.epoch != ep {
		m.mu.Unlock()
		return nil
	}
	err := firstReadError(adminErr, userErr)
	if err != nil {
		// a failed read leaves the role unresolved
		m.admin = nil
		m.user = nil
	} else {
		m.admin = &admin
		if m.roleStableLocked(mark) {
			m.user = &user
		}
	}
	m.mu.Unlock()
	m.emit(ep, "role read")

	if err != nil {
		sessionLog.Errorf("resolve role for %s: %v", identity.Hex(), err)
		m.notifier.Show("Failed to load your account: "+domain.Reason(err), tracker.SeverityError)
		return err
	}
	return nil
}

func firstReadError(adminErr, userErr error) error {
	if adminErr != nil {
		return asReadError("admin", adminErr)
	}
	if userErr != nil {
		return asReadError("users", userErr)
	}
	return nil
}

// reloadRegistration re-reads users(identity) after a confirmed
// registration. Failures keep the confirmed state and are only logged.
func (m *SessionManager) reloadRegistration(ctx context.Context, ep uint64) {
	m.mu.Lock()
	if m.epoch != ep || m.identity == nil || m.roleInFlight != 0 {
		m.mu.Unlock()
		return
	}
	identity := *m.identity
	mark := m.roleMarkLocked()
	m.mu.Unlock()

	user, err := m.ledger.User(ctx, identity)
	if err != nil {
		sessionLog.Warnf("reload registration for %s: %v", identity.Hex(), err)
		return
	}

	m.mu.Lock()
	if m.epoch != ep || !m.roleStableLocked(mark) {
		m.mu.Unlock()
		return
	}
	m.user = &user
	m.mu.Unlock()
	m.emit(ep, "registration read")
}

func (m *SessionManager) acting() (acting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.identity == nil {
		return acting{}, domain.ValidationError{Field: "identity", Reason: "Connect a wallet first"}
	}
	view := domain.DeriveRole(m.identity, m.admin, m.user, m.signedIn)
	if !view.Known {
		return acting{}, domain.ValidationError{Field: "role", Reason: "Your account is still loading, refresh and try again"}
	}
	return acting{identity: *m.identity, view: view, epoch: m.epoch}, nil
}

// roleMark is the role-write state observed when a read starts.
type roleMark struct {
	gen      uint64
	inFlight bool
}

func (m *SessionManager) roleMarkLocked() roleMark {
	return roleMark{gen: m.roleGen, inFlight: m.roleInFlight != 0}
}

// roleStableLocked reports whether a users() read started at mark can be
// applied: no role-affecting write overlapped it at any point.
func (m *SessionManager) roleStableLocked(mark roleMark) bool {
	return !mark.inFlight && m.roleInFlight == 0 && m.roleGen == mark.gen
}

// beginRoleWrite marks a role-affecting write in flight. Registration reads
// that overlap it are dropped.
func (m *SessionManager) beginRoleWrite() {
	m.mu.Lock()
	m.roleGen++
	m.roleInFlight++
	m.mu.Unlock()
}

func (m *SessionManager) endRoleWrite() {
	m.mu.Lock()
	m.roleInFlight--
	m.mu.Unlock()
}

// applyConfirmedRegistration records a confirmed createProfile for the
// identity active at epoch ep.
func (m *SessionManager) applyConfirmedRegistration(ep uint64, profile tracker.Profile) bool {
	m.mu.Lock()
	if m.epoch != ep {
		m.mu.Unlock()
		return false
	}
	m.user = &tracker.UserRecord{Profile: profile, Registered: true}
	m.mu.Unlock()
	m.emit(ep, "registered")
	return true
}

// SignIn is a local confirmation step available to registered identities.
func (m *SessionManager) SignIn() error {
	m.mu.Lock()
	view := domain.DeriveRole(m.identity, m.admin, m.user, m.signedIn)
	if m.state != StateConnected || !view.Known || !view.Registered() {
		m.mu.Unlock()
		err := domain.ValidationError{Field: "role", Reason: "Register before signing in"}
		m.notifier.Show(err.Reason, tracker.SeverityError)
		return err
	}
	m.signedIn = true
	ep := m.epoch
	m.mu.Unlock()
	m.emit(ep, "signed in")
	return nil
}

func (m *SessionManager) SignOut() {
	m.mu.Lock()
	m.signedIn = false
	ep := m.epoch
	m.mu.Unlock()
	m.emit(ep, "signed out")
}

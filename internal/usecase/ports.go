package usecase

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/totegamma/attendance-tracker"
)

// LedgerGateway is the narrow surface of the attendance contract. Writes
// return only once the transaction is confirmed.
type LedgerGateway interface {
	Admin(ctx context.Context) (common.Address, error)
	User(ctx context.Context, addr common.Address) (tracker.UserRecord, error)
	CheckAttendance(ctx context.Context, subject common.Address, timestamp int64) (bool, error)

	CreateProfile(ctx context.Context, from common.Address, profile tracker.Profile) error
	MarkAttendance(ctx context.Context, from common.Address, timestamp int64) error
	ModifyAttendance(ctx context.Context, from, subject common.Address, timestamp int64, present bool) error
	EvictUser(ctx context.Context, from, subject common.Address) error
}

// Wallet supplies the active identity. It may switch identities at any
// time and reports that on the subscription. A zero address means no
// account is available.
type Wallet interface {
	RequestActiveIdentity(ctx context.Context, hint *common.Address) (common.Address, error)
	SubscribeIdentityChanged(ch chan<- common.Address) event.Subscription
}

// IdentityHintStore keeps the last connected identity to pre-select it on
// reconnect.
type IdentityHintStore interface {
	LoadHint(ctx context.Context) (common.Address, bool, error)
	SaveHint(ctx context.Context, addr common.Address) error
}

// Notifier is the single-slot notification surface.
type Notifier interface {
	Show(message string, severity tracker.Severity) tracker.Notification
}

// EventJournal stores observed ledger events.
type EventJournal interface {
	Append(ctx context.Context, ev tracker.LedgerEvent) error
	List(ctx context.Context, subject *common.Address, limit int) ([]tracker.LedgerEvent, error)
}

// SignalPublisher fans events and notifications out to other processes.
type SignalPublisher interface {
	PublishEvent(ctx context.Context, ev tracker.LedgerEvent) error
	PublishNotification(ctx context.Context, n tracker.Notification) error
}

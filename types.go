package tracker

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is the single user-facing message slot.
type Notification struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Live reports whether the notification is still visible at now.
func (n Notification) Live(now time.Time) bool {
	return n.Message != "" && now.Before(n.ExpiresAt)
}

// Profile is the participant's display data as stored on the ledger.
// Its format is application-defined; see FormatProfile.
type Profile string

// UserRecord is the ledger's answer to users(address).
type UserRecord struct {
	Profile    Profile `json:"profile"`
	Registered bool    `json:"registered"`
}

type EventKind string

const (
	EventProfileCreated     EventKind = "ProfileCreated"
	EventAttendanceMarked   EventKind = "AttendanceMarked"
	EventAttendanceModified EventKind = "AttendanceModified"
	EventUserEvicted        EventKind = "UserEvicted"
)

// LedgerEvent is a decoded contract event.
type LedgerEvent struct {
	Kind        EventKind      `json:"kind"`
	Subject     common.Address `json:"subject"`
	Profile     Profile        `json:"profile,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
	Present     *bool          `json:"present,omitempty"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
}

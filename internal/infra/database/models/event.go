package models

import (
	"time"
)

// LedgerEvent is one journaled contract log. A log is identified by its
// transaction hash and index, so replays collapse onto the same row.
type LedgerEvent struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind        string    `json:"kind" gorm:"type:text;not null;index"`
	Subject     string    `json:"subject" gorm:"type:text;not null;index"`
	Profile     string    `json:"profile" gorm:"type:text"`
	Timestamp   int64     `json:"timestamp"`
	Present     *bool     `json:"present"`
	BlockNumber uint64    `json:"blockNumber" gorm:"index"`
	TxHash      string    `json:"txHash" gorm:"type:text;not null;uniqueIndex:uniq_ledger_event_log"`
	LogIndex    uint      `json:"logIndex" gorm:"not null;uniqueIndex:uniq_ledger_event_log"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

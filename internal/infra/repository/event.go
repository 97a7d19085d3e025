package repository

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/infra/database/models"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

const maxListLimit = 500

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores ev. Storing the same log twice is a no-op.
func (r *EventRepository) Append(ctx context.Context, ev tracker.LedgerEvent) error {
	row := toModel(ev)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(&row).Error
	return errors.Wrap(err, "append ledger event")
}

// List returns the newest events first, optionally for one subject.
func (r *EventRepository) List(ctx context.Context, subject *common.Address, limit int) ([]tracker.LedgerEvent, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.LedgerEvent{})
	if subject != nil {
		q = q.Where("subject = ?", subject.Hex())
	}

	var rows []models.LedgerEvent
	err := q.Order("block_number DESC").Order("log_index DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list ledger events")
	}

	events := make([]tracker.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, fromModel(row))
	}
	return events, nil
}

func toModel(ev tracker.LedgerEvent) models.LedgerEvent {
	return models.LedgerEvent{
		Kind:        string(ev.Kind),
		Subject:     ev.Subject.Hex(),
		Profile:     string(ev.Profile),
		Timestamp:   ev.Timestamp,
		Present:     ev.Present,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    ev.LogIndex,
	}
}

func fromModel(row models.LedgerEvent) tracker.LedgerEvent {
	return tracker.LedgerEvent{
		Kind:        tracker.EventKind(row.Kind),
		Subject:     common.HexToAddress(row.Subject),
		Profile:     tracker.Profile(row.Profile),
		Timestamp:   row.Timestamp,
		Present:     row.Present,
		BlockNumber: row.BlockNumber,
		TxHash:      common.HexToHash(row.TxHash),
		LogIndex:    row.LogIndex,
	}
}

var _ usecase.EventJournal = (*EventRepository)(nil)

package usecase

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/attendance-tracker"
)

var (
	eventTracer = otel.Tracer("events")
	eventLog    = log.New("events")
)

// EventUsecase journals observed ledger events. Events are informational;
// role and attendance state always come from ledger reads.
type EventUsecase struct {
	journal   EventJournal
	publisher SignalPublisher
}

// NewEventUsecase builds the event log. publisher may be nil.
func NewEventUsecase(journal EventJournal, publisher SignalPublisher) *EventUsecase {
	return &EventUsecase{
		journal:   journal,
		publisher: publisher,
	}
}

// Record stores ev and republishes it. Failures are logged and do not stop
// the watcher.
func (u *EventUsecase) Record(ctx context.Context, ev tracker.LedgerEvent) {
	ctx, span := eventTracer.Start(ctx, "Event.Usecase.Record")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(ev.Kind)), attribute.String("subject", ev.Subject.Hex()))

	if err := u.journal.Append(ctx, ev); err != nil {
		span.RecordError(err)
		eventLog.Errorf("journal %s %s: %v", ev.Kind, ev.TxHash.Hex(), err)
	}
	if u.publisher == nil {
		return
	}
	if err := u.publisher.PublishEvent(ctx, ev); err != nil {
		span.RecordError(err)
		eventLog.Warnf("publish %s: %v", ev.Kind, err)
	}
}

func (u *EventUsecase) List(ctx context.Context, subject *common.Address, limit int) ([]tracker.LedgerEvent, error) {
	ctx, span := eventTracer.Start(ctx, "Event.Usecase.List")
	defer span.End()

	events, err := u.journal.List(ctx, subject, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return events, nil
}

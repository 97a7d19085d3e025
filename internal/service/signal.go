package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

var tracer = otel.Tracer("signal")

const (
	EventChannel        = "tracker:events"
	NotificationChannel = "tracker:notifications"
)

// SignalService publishes ledger events and notifications on redis so other
// processes can follow this client without polling it.
type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) PublishEvent(ctx context.Context, ev tracker.LedgerEvent) error {
	ctx, span := tracer.Start(ctx, "Signal.Service.PublishEvent")
	defer span.End()

	err := s.publish(ctx, EventChannel, ev)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *SignalService) PublishNotification(ctx context.Context, n tracker.Notification) error {
	ctx, span := tracer.Start(ctx, "Signal.Service.PublishNotification")
	defer span.End()

	err := s.publish(ctx, NotificationChannel, n)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *SignalService) publish(ctx context.Context, channel string, v any) error {
	jsonstr, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode signal")
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return errors.Wrapf(err, "publish to %s", channel)
	}

	return nil
}

var _ usecase.SignalPublisher = (*SignalService)(nil)

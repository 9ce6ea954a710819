package serviceImp

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/logger"
	"farmdash/pkg/store/repository"
	"farmdash/pkg/subscription"
	"farmdash/pkg/telemetry"
	"farmdash/pkg/telemetry/service"
)

type readingSvc struct {
	store repository.Store
	v     *validator.Validate
	opts  subscription.Options
	log   *zap.Logger
}

func NewReadingService(store repository.Store, opts subscription.Options, log *zap.Logger) service.ReadingService {
	if opts.WindowSize <= 0 {
		opts.WindowSize = telemetry.DefaultWindowSize
	}
	return &readingSvc{store: store, v: apperror.NewValidator(), opts: opts, log: logger.OrNop(log)}
}

func (s *readingSvc) Record(ctx context.Context, uid string, in service.ReadingInput) (*entities.SensorReading, error) {
	if err := apperror.Validate(s.v, in); err != nil {
		return nil, err
	}
	if uid != "" {
		if err := s.checkOwner(ctx, uid, in.FieldID); err != nil {
			return nil, err
		}
	}

	r := &entities.SensorReading{
		FieldID:   in.FieldID,
		SensorID:  in.SensorID,
		Value:     in.Value,
		Timestamp: in.Timestamp.UTC(),
	}
	if err := s.store.InsertReading(ctx, r); err != nil {
		return nil, &apperror.TransportError{Op: "insert reading", Err: err}
	}
	s.log.Debug("reading recorded",
		zap.String("field_id", r.FieldID),
		zap.String("sensor_id", r.SensorID),
		zap.Float64("value", r.Value))
	return r, nil
}

func (s *readingSvc) Window(ctx context.Context, uid, fieldID string) (telemetry.Window, error) {
	snap, err := s.run(ctx, uid, fieldID, subscription.StreamTelemetryWindow)
	if err != nil {
		return telemetry.Window{}, err
	}
	return telemetry.NewWindow(s.opts.WindowSize, snap.Readings), nil
}

func (s *readingSvc) Latest(ctx context.Context, uid, fieldID string) (telemetry.Latest, error) {
	snap, err := s.run(ctx, uid, fieldID, subscription.StreamLatestReading)
	if err != nil {
		return telemetry.Latest{}, err
	}
	return telemetry.NewLatest(snap.Readings), nil
}

func (s *readingSvc) run(ctx context.Context, uid, fieldID string, kind subscription.StreamKind) (repository.Snapshot, error) {
	if uid != "" {
		if err := s.checkOwner(ctx, uid, fieldID); err != nil {
			return repository.Snapshot{}, err
		}
	}
	q, err := subscription.QueryFor(uid, s.opts, subscription.Key{FieldID: fieldID, Kind: kind})
	if err != nil {
		return repository.Snapshot{}, err
	}
	snap, err := s.store.Run(ctx, q)
	if err != nil {
		return repository.Snapshot{}, &apperror.TransportError{Op: "query readings", Err: err}
	}
	return snap, nil
}

func (s *readingSvc) checkOwner(ctx context.Context, uid, fieldID string) error {
	_, err := s.store.GetField(ctx, uid, fieldID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return &apperror.NotFoundError{Kind: "field", ID: fieldID, Err: err}
	default:
		return &apperror.TransportError{Op: "get field", Err: err}
	}
}

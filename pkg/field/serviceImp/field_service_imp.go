package serviceImp

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmdash/entities"
	"farmdash/pkg/apperror"
	"farmdash/pkg/field/service"
	"farmdash/pkg/logger"
	"farmdash/pkg/store/repository"
)

type fieldSvc struct {
	store repository.Store
	v     *validator.Validate
	log   *zap.Logger
}

func NewFieldService(store repository.Store, log *zap.Logger) service.FieldService {
	return &fieldSvc{store: store, v: apperror.NewValidator(), log: logger.OrNop(log)}
}

func (s *fieldSvc) CreateField(ctx context.Context, uid string, in service.FieldInput) (*entities.Field, error) {
	in.FieldName = strings.TrimSpace(in.FieldName)
	in.CropType = strings.ToLower(strings.TrimSpace(in.CropType))
	if err := apperror.Validate(s.v, in); err != nil {
		return nil, err
	}
	f := &entities.Field{
		UserID:       uid,
		FieldName:    in.FieldName,
		CropType:     in.CropType,
		Acreage:      in.Acreage,
		SowingDate:   in.SowingDate.UTC(),
		TotalExpense: decimal.Zero,
	}
	if err := s.store.CreateField(ctx, f); err != nil {
		return nil, &apperror.TransportError{Op: "create field", Err: err}
	}
	s.log.Info("field created", zap.String("field_id", f.FieldID), zap.String("crop_type", f.CropType))
	return f, nil
}

func (s *fieldSvc) GetField(ctx context.Context, uid, fieldID string) (*entities.Field, error) {
	f, err := s.store.GetField(ctx, uid, fieldID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperror.NotFoundError{Kind: "field", ID: fieldID, Err: err}
		}
		return nil, &apperror.TransportError{Op: "get field", Err: err}
	}
	return f, nil
}

func (s *fieldSvc) ListFields(ctx context.Context, uid string) ([]entities.Field, error) {
	snap, err := s.store.Run(ctx, repository.Query{
		Collection: repository.CollectionFields,
		UserID:     uid,
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return nil, &apperror.TransportError{Op: "list fields", Err: err}
	}
	return snap.Fields, nil
}

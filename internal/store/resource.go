package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reservation-backend/internal/model"
)

// CreateResource inserts a new resource definition.
func (s *gormStore) CreateResource(ctx context.Context, res *model.Resource) error {
	if err := s.db.WithContext(ctx).Create(res).Error; err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// GetResource loads a resource by id.
func (s *gormStore) GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	var res model.Resource
	err := s.db.WithContext(ctx).First(&res, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return &res, nil
}

// ListResources returns all resources ordered by name.
func (s *gormStore) ListResources(ctx context.Context) ([]model.Resource, error) {
	var resources []model.Resource
	if err := s.db.WithContext(ctx).Order("name").Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// SaveResource persists administrative changes to a resource.
func (s *gormStore) SaveResource(ctx context.Context, res *model.Resource) error {
	if err := s.db.WithContext(ctx).Save(res).Error; err != nil {
		return fmt.Errorf("save resource: %w", err)
	}
	return nil
}

// RefreshResourceStatus recomputes the derived status field from the base
// flag, the administrative window, and the reservation covering now, and
// persists it when it changed. The status column is a convenience for list
// views; availability reads always derive from first principles.
func (s *gormStore) RefreshResourceStatus(ctx context.Context, id uuid.UUID, now time.Time) (*model.Resource, error) {
	var out *model.Resource
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res model.Resource
		if err := s.locked(tx).First(&res, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}

		status := deriveStatus(tx, &res, now)
		if status != res.Status {
			res.Status = status
			if err := tx.Model(&model.Resource{}).Where("id = ?", res.ID).
				Update("status", status).Error; err != nil {
				return err
			}
		}
		out = &res
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("refresh resource status: %w", err)
	}
	return out, nil
}

func deriveStatus(tx *gorm.DB, res *model.Resource, now time.Time) model.ResourceStatus {
	if !res.BaseAvailable {
		return model.ResourceUnavailable
	}
	if res.UnavailableSince != nil {
		end := now.Add(time.Second) // open-ended without auto reset
		if res.AutoResetHours != nil {
			end = res.UnavailableSince.Add(time.Duration(*res.AutoResetHours) * time.Hour)
		}
		if !now.Before(*res.UnavailableSince) && now.Before(end) {
			return model.ResourceUnavailable
		}
	}

	var covering int64
	tx.Model(&model.Reservation{}).
		Where("resource_id = ? AND status = ? AND start_time <= ? AND ? < end_time",
			res.ID, model.ReservationActive, now, now).
		Count(&covering)
	if covering > 0 {
		return model.ResourceInUse
	}
	return model.ResourceAvailable
}

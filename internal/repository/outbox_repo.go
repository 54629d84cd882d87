package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/model"
)

// OutboxRepository 待投递通知批次
type OutboxRepository interface {
	Append(ctx context.Context, batches []*model.UpdateOutbox) error
	// Pending 未投递的批次，按写入顺序
	Pending(ctx context.Context, limit int) ([]*model.UpdateOutbox, error)
	MarkDelivered(ctx context.Context, id uint64, at time.Time) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Append(ctx context.Context, batches []*model.UpdateOutbox) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&batches).Error
}

func (r *outboxRepository) Pending(ctx context.Context, limit int) ([]*model.UpdateOutbox, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*model.UpdateOutbox
	if err := r.db.WithContext(ctx).
		Where("delivered_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.UpdateOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.UpdateOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
)

// timestampLayout ISO-8601，毫秒精度
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Emitter 通知发送：每个阶段在自身事务内按类型分批写入 outbox，sweep 结束时按顺序投递（至少一次）
type Emitter struct {
	outbox    repository.OutboxRepository
	publisher interfaces.UpdatePublisher
	batchSize int
	logger    *logrus.Logger
}

func NewEmitter(outbox repository.OutboxRepository, publisher interfaces.UpdatePublisher, batchSize int, logger *logrus.Logger) *Emitter {
	return &Emitter{outbox: outbox, publisher: publisher, batchSize: batchSize, logger: logger}
}

// BatchUpdates 按层级顺序将 updates 分组为批次，每种类型一批
func BatchUpdates(updates []model.Update, at time.Time) []*model.UpdateBatch {
	byType := make(map[model.UpdateType][]model.Update)
	for _, u := range updates {
		byType[u.Type] = append(byType[u.Type], u)
	}
	ts := at.UTC().Format(timestampLayout)
	var batches []*model.UpdateBatch
	for _, t := range model.UpdateTypeOrder {
		if items := byType[t]; len(items) > 0 {
			batches = append(batches, &model.UpdateBatch{Type: t, Data: items, Timestamp: ts})
		}
	}
	return batches
}

// Persist 将一个阶段的 updates 写入给定的 outbox（通常为该阶段的事务），返回批次数
func (e *Emitter) Persist(ctx context.Context, outbox repository.OutboxRepository, updates []model.Update, at time.Time) (int, error) {
	batches := BatchUpdates(updates, at)
	if len(batches) == 0 {
		return 0, nil
	}
	rows := make([]*model.UpdateOutbox, 0, len(batches))
	for _, b := range batches {
		payload, err := json.Marshal(b)
		if err != nil {
			return 0, fmt.Errorf("序列化 %s 批次失败: %w", b.Type, err)
		}
		rows = append(rows, &model.UpdateOutbox{
			BatchID: uuid.NewString(),
			Type:    b.Type,
			Payload: datatypes.JSON(payload),
		})
	}
	if err := outbox.Append(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Drain 按写入顺序投递未投递的批次；遇到失败即停止，保证顺序，剩余批次下次重试
func (e *Emitter) Drain(ctx context.Context) (int, error) {
	if e.publisher == nil {
		return 0, nil
	}
	pending, err := e.outbox.Pending(ctx, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("读取 outbox 失败: %w", err)
	}
	delivered := 0
	for _, row := range pending {
		if err := e.publisher.Publish(ctx, string(row.Type), row.Payload); err != nil {
			if merr := e.outbox.MarkFailed(ctx, row.ID, err.Error()); merr != nil {
				e.logger.WithError(merr).WithField("batch_id", row.BatchID).Warn("记录投递失败状态失败")
			}
			return delivered, fmt.Errorf("投递批次 %s (%s) 到 %s: %w", row.BatchID, row.Type, e.publisher.Name(), err)
		}
		if err := e.outbox.MarkDelivered(ctx, row.ID, time.Now().UTC()); err != nil {
			return delivered, fmt.Errorf("标记批次 %s 已投递: %w", row.BatchID, err)
		}
		delivered++
		e.logger.WithFields(logrus.Fields{
			"batch_id":  row.BatchID,
			"type":      row.Type,
			"publisher": e.publisher.Name(),
		}).Debug("通知已投递")
	}
	return delivered, nil
}

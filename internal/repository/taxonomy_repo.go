package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/model"
)

// EventFilter 赛事列表筛选条件
type EventFilter struct {
	State           model.EventState // 0 表示不限
	ManifestationID uint64           // 0 表示不限
}

// GameView 赛事下单条共识赔率，带盘口与结果名称
type GameView struct {
	ID          uint64
	MarketID    uint64
	MarketName  string
	OutcomeID   uint64
	OutcomeName string
	Value       int64
	State       model.GameState
}

// TaxonomyRepository 面向管理端查询的只读仓储
type TaxonomyRepository interface {
	// ListEvents 按过滤条件分页查询统一赛事
	ListEvents(ctx context.Context, filter EventFilter, page, pageSize int) ([]*model.Event, int64, error)
	// GetGamesByEventID 查询单个赛事的所有共识赔率
	GetGamesByEventID(ctx context.Context, eventID uint64) ([]*GameView, error)
	// CountPending 各 staging 表中待处理（changed）的行数，以及 outbox 中未投递的批次数
	CountPending(ctx context.Context) (map[string]int64, error)
}

type taxonomyRepository struct {
	db *gorm.DB
}

// NewTaxonomyRepository 创建 TaxonomyRepository 实例
func NewTaxonomyRepository(db *gorm.DB) TaxonomyRepository {
	return &taxonomyRepository{db: db}
}

func (r *taxonomyRepository) ListEvents(ctx context.Context, filter EventFilter, page, pageSize int) ([]*model.Event, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	db := r.db.WithContext(ctx).Model(&model.Event{})
	if filter.State != 0 {
		db = db.Where("state = ?", filter.State)
	}
	if filter.ManifestationID != 0 {
		db = db.Where("manifestation_id = ?", filter.ManifestationID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []*model.Event
	if err := db.
		Order("start_time ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *taxonomyRepository) GetGamesByEventID(ctx context.Context, eventID uint64) ([]*GameView, error) {
	var games []*GameView
	err := r.db.WithContext(ctx).
		Table("event_outcomes AS eo").
		Select("eo.id, eo.market_id, m.name AS market_name, eo.outcome_id, o.name AS outcome_name, eo.value, eo.state").
		Joins("JOIN markets m ON m.id = eo.market_id").
		Joins("JOIN outcomes o ON o.id = eo.outcome_id").
		Where("eo.event_id = ?", eventID).
		Order("eo.market_id, eo.outcome_id").
		Scan(&games).Error
	if err != nil {
		return nil, err
	}
	return games, nil
}

var stagingTables = []string{
	"source_groups", "source_categories", "source_manifestations", "source_events",
	"source_participants", "source_markets", "source_outcomes",
}

func (r *taxonomyRepository) CountPending(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(stagingTables))
	for _, table := range stagingTables {
		var n int64
		if err := r.db.WithContext(ctx).Table(table).Where("changed = ?", true).Count(&n).Error; err != nil {
			return nil, err
		}
		out[table] = n
	}
	var undelivered int64
	if err := r.db.WithContext(ctx).Model(&model.UpdateOutbox{}).Where("delivered_at IS NULL").Count(&undelivered).Error; err != nil {
		return nil, err
	}
	out["update_outbox"] = undelivered
	return out, nil
}

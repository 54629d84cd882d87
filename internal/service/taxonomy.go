package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
)

// TaxonomyService 面向管理端的统一数据查询
type TaxonomyService struct {
	repo          repository.TaxonomyRepository
	canonicalRepo repository.CanonicalRepository
	logger        *logrus.Logger
}

// NewTaxonomyService 创建 TaxonomyService
func NewTaxonomyService(repo repository.TaxonomyRepository, canonicalRepo repository.CanonicalRepository, logger *logrus.Logger) *TaxonomyService {
	return &TaxonomyService{
		repo:          repo,
		canonicalRepo: canonicalRepo,
		logger:        logger,
	}
}

// EventSummary 列表页单个赛事
type EventSummary struct {
	ID              uint64           `json:"id"`
	Name            string           `json:"name"`
	State           model.EventState `json:"state"`
	StartTime       int64            `json:"start_time"` // 开赛时间戳（毫秒）
	ManifestationID *uint64          `json:"manifestation_id,omitempty"`
}

// EventListResult 列表返回
type EventListResult struct {
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int64          `json:"total"`
	Items    []EventSummary `json:"items"`
}

// ListEvents 按条件分页返回统一赛事
func (s *TaxonomyService) ListEvents(ctx context.Context, filter repository.EventFilter, page, pageSize int) (*EventListResult, error) {
	events, total, err := s.repo.ListEvents(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	result := &EventListResult{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Items:    make([]EventSummary, 0, len(events)),
	}
	for _, e := range events {
		result.Items = append(result.Items, EventSummary{
			ID:              e.ID,
			Name:            e.Name,
			State:           e.State,
			StartTime:       e.StartTime.UnixMilli(),
			ManifestationID: e.ManifestationID,
		})
	}
	return result, nil
}

// GameDetail 详情页单条共识赔率
type GameDetail struct {
	MarketID    uint64          `json:"market_id"`
	MarketName  string          `json:"market_name"`
	OutcomeID   uint64          `json:"outcome_id"`
	OutcomeName string          `json:"outcome_name"`
	Value       int64           `json:"value"`
	State       model.GameState `json:"state"`
}

// EventDetail 赛事详情：层级名称、主客队与全部共识赔率
type EventDetail struct {
	Event model.EventData `json:"event"`
	Games []GameDetail    `json:"games"`
}

// ErrEventNotFound 赛事不存在
var ErrEventNotFound = errors.New("event not found")

// GetEventDetail 获取单个赛事详情
func (s *TaxonomyService) GetEventDetail(ctx context.Context, id uint64) (*EventDetail, error) {
	rows, err := s.canonicalRepo.EventPayloads(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEventNotFound
	}
	games, err := s.repo.GetGamesByEventID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &EventDetail{
		Event: buildEventData(rows),
		Games: make([]GameDetail, 0, len(games)),
	}
	for _, g := range games {
		detail.Games = append(detail.Games, GameDetail{
			MarketID:    g.MarketID,
			MarketName:  g.MarketName,
			OutcomeID:   g.OutcomeID,
			OutcomeName: g.OutcomeName,
			Value:       g.Value,
			State:       g.State,
		})
	}
	return detail, nil
}

// PendingCounts 各 staging 表待处理行数
func (s *TaxonomyService) PendingCounts(ctx context.Context) (map[string]int64, error) {
	return s.repo.CountPending(ctx)
}

package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/utils/collection"
	"github.com/bitsmanent/pixelounifier/internal/utils/textutil"
)

// processSourceOutcomes 赔率阶段：回填 market/event，按名称解析 outcome，再对涉及的 (event, market, outcome) 重新聚合
func (u *Unifier) processSourceOutcomes(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimOutcomes(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	if err := backfillOutcomeParents(ctx, s, rows); err != nil {
		return len(rows), err
	}
	if err := resolveOutcomeLabels(ctx, s, rows); err != nil {
		return len(rows), err
	}

	var keys []model.GameKey
	for _, r := range rows {
		if r.Resolved() {
			keys = append(keys, r.GameKey())
		}
	}
	if err := aggregateGames(ctx, s, collection.Unique(keys), u.cfg.StaleTolerance); err != nil {
		return len(rows), err
	}
	return len(rows), nil
}

// backfillOutcomeParents 从同一数据源已解析的 staging 盘口与赛事回填 market_id / event_id
func backfillOutcomeParents(ctx context.Context, s *stageScope, rows []*model.SourceOutcome) error {
	var sources, marketExt, eventExt []string
	for _, r := range rows {
		sources = append(sources, r.Source)
		marketExt = append(marketExt, r.ExternalMarketID)
		eventExt = append(eventExt, r.ExternalEventID)
	}
	sources = collection.Unique(sources)
	marketRefs, err := s.staging.ResolvedParents(ctx, "source_markets", "market_id", "", sources, collection.Unique(marketExt))
	if err != nil {
		return err
	}
	eventRefs, err := s.staging.ResolvedParents(ctx, "source_events", "event_id", "", sources, collection.Unique(eventExt))
	if err != nil {
		return err
	}
	markets, events := newParentIndex(marketRefs), newParentIndex(eventRefs)

	setMarket := make(map[uint64][]uint64)
	setEvent := make(map[uint64][]uint64)
	for _, r := range rows {
		if m := markets.lookup(r.Source, r.ExternalMarketID, ""); m != nil && (r.MarketID == nil || *r.MarketID != *m) {
			setMarket[*m] = append(setMarket[*m], r.ID)
			r.MarketID = m
		}
		if e := events.lookup(r.Source, r.ExternalEventID, ""); e != nil && (r.EventID == nil || *r.EventID != *e) {
			setEvent[*e] = append(setEvent[*e], r.ID)
			r.EventID = e
		}
	}
	for id, rowIDs := range setMarket {
		if err := s.staging.SetResolved(ctx, "source_outcomes", "market_id", id, rowIDs); err != nil {
			return err
		}
	}
	for id, rowIDs := range setEvent {
		if err := s.staging.SetResolved(ctx, "source_outcomes", "event_id", id, rowIDs); err != nil {
			return err
		}
	}
	return nil
}

// resolveOutcomeLabels 结果标签全局按名称去重
func resolveOutcomeLabels(ctx context.Context, s *stageScope, rows []*model.SourceOutcome) error {
	groups := collection.GroupBy(rows, func(r *model.SourceOutcome) string { return textutil.NameKey(r.Name) })
	for _, g := range groups {
		var pending []*model.SourceOutcome
		var known *uint64
		for _, r := range g.Items {
			if r.OutcomeID != nil {
				if known == nil {
					known = r.OutcomeID
				}
				continue
			}
			pending = append(pending, r)
		}
		if len(pending) == 0 {
			continue
		}
		if known == nil {
			o, _, err := s.canonical.EnsureOutcome(ctx, g.Items[0].Name)
			if err != nil {
				return fmt.Errorf("解析结果标签 name_key=%s: %w", g.Key, err)
			}
			known = &o.ID
		}
		ids := make([]uint64, 0, len(pending))
		for _, r := range pending {
			ids = append(ids, r.ID)
			r.OutcomeID = known
		}
		if err := s.staging.SetResolved(ctx, "source_outcomes", "outcome_id", *known, ids); err != nil {
			return err
		}
	}
	return nil
}

// Consensus 多数据源对同一赔率的共识
type Consensus struct {
	Name  string
	Value int64
	State model.GameState
}

// computeConsensus 取各数据源 value 的均值四舍五入；任一数据源禁用则共识为禁用
func computeConsensus(rows []*model.SourceOutcome) Consensus {
	if len(rows) == 0 {
		return Consensus{State: model.GameDisabled}
	}
	var sum int64
	state := model.GameActive
	for _, r := range rows {
		sum += r.Value
		if r.State != model.OutcomeActive {
			state = model.GameDisabled
		}
	}
	return Consensus{
		Name:  rows[0].Name,
		Value: int64(math.Round(float64(sum) / float64(len(rows)))),
		State: state,
	}
}

type reportKey struct {
	source string
	parent string
}

// freshOutcomes 剔除陈旧行：同一数据源同一赛事下，早于该数据源最近一次上报（减去容差）的行
func freshOutcomes(rows []*model.SourceOutcome, tolerance time.Duration) []*model.SourceOutcome {
	fresh := freshByParent(rows,
		func(r *model.SourceOutcome) reportKey { return reportKey{r.Source, r.ExternalEventID} },
		func(r *model.SourceOutcome) time.Time { return r.UpdatedAt },
		tolerance)
	out := make([]*model.SourceOutcome, 0, len(rows))
	for i, r := range rows {
		if fresh[i] {
			out = append(out, r)
		}
	}
	return out
}

// aggregateGames 对给定的 (event, market, outcome) 重新计算共识：
// 不存在则创建，值或状态变化则更新，否则不写库也不通知
func aggregateGames(ctx context.Context, s *stageScope, keys []model.GameKey, tolerance time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	wanted := make(map[model.GameKey]struct{}, len(keys))
	var eventIDs []uint64
	for _, k := range keys {
		wanted[k] = struct{}{}
		eventIDs = append(eventIDs, k.EventID)
	}
	eventIDs = collection.Unique(eventIDs)

	all, err := s.staging.ResolvedOutcomesForEvents(ctx, eventIDs)
	if err != nil {
		return err
	}
	bySource := make(map[model.GameKey][]*model.SourceOutcome)
	for _, r := range freshOutcomes(all, tolerance) {
		k := r.GameKey()
		if _, ok := wanted[k]; ok {
			bySource[k] = append(bySource[k], r)
		}
	}

	games, err := s.canonical.GamesByEventIDs(ctx, eventIDs)
	if err != nil {
		return err
	}
	existing := make(map[model.GameKey]*model.EventOutcome, len(games))
	for _, g := range games {
		existing[g.Key()] = g
	}

	for _, k := range keys {
		reports := bySource[k]
		if len(reports) == 0 {
			continue
		}
		c := computeConsensus(reports)
		data := model.GameData{
			EventID: k.EventID, MarketID: k.MarketID, OutcomeID: k.OutcomeID,
			Name: c.Name, Value: c.Value, State: c.State,
		}
		fields := logrus.Fields{"event_id": k.EventID, "market_id": k.MarketID, "outcome_id": k.OutcomeID}

		cur, ok := existing[k]
		if !ok {
			g := &model.EventOutcome{EventID: k.EventID, MarketID: k.MarketID, OutcomeID: k.OutcomeID, Value: c.Value, State: c.State}
			if err := s.canonical.CreateGame(ctx, g); err != nil {
				return fmt.Errorf("创建 event_outcome %v: %w", k, err)
			}
			s.emit(model.UpdateGame, model.UpdateCreated, data)
			continue
		}
		if cur.Value == c.Value && cur.State == c.State {
			continue
		}
		if err := s.canonical.UpdateGame(ctx, cur.ID, c.Value, c.State); err != nil {
			return fmt.Errorf("更新 event_outcome %v: %w", k, err)
		}
		s.log.WithFields(fields).WithFields(logrus.Fields{
			"value": fmt.Sprintf("%d->%d", cur.Value, c.Value),
			"state": fmt.Sprintf("%d->%d", cur.State, c.State),
		}).Debug("共识赔率变化")
		s.emit(model.UpdateGame, model.UpdateUpdated, data)
	}
	return nil
}

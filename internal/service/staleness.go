package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/utils/collection"
)

// detectStale 陈旧检测。假设数据源每轮都上报某个上级下的完整快照：
// 同一数据源同一上级下，早于最近一次上报的行视为该数据源已不再报告。
// 赛事以 manifestation 为上级，赔率以赛事为上级。返回发生状态变化的实体数
func (u *Unifier) detectStale(ctx context.Context, s *stageScope) (int, error) {
	since := s.now.Add(-u.cfg.StaleLookback)
	n, err := u.detectStaleEvents(ctx, s, since)
	if err != nil {
		return n, err
	}
	m, err := u.detectStaleGames(ctx, s, since)
	return n + m, err
}

// freshByParent 返回每行是否新鲜；同一 (source, parent) 下 updated_at 不早于最新值减容差即为新鲜
func freshByParent[T any](rows []T, key func(T) reportKey, at func(T) time.Time, tolerance time.Duration) []bool {
	latest := make(map[reportKey]time.Time)
	for _, r := range rows {
		k := key(r)
		if t := at(r); t.After(latest[k]) {
			latest[k] = t
		}
	}
	fresh := make([]bool, len(rows))
	for i, r := range rows {
		fresh[i] = !at(r).Before(latest[key(r)].Add(-max(tolerance, 0)))
	}
	return fresh
}

func (u *Unifier) detectStaleEvents(ctx context.Context, s *stageScope, since time.Time) (int, error) {
	rows, err := s.staging.EventReports(ctx, since)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	fresh := freshByParent(rows,
		func(r *model.SourceEvent) reportKey { return reportKey{r.Source, r.ExternalManifestationID} },
		func(r *model.SourceEvent) time.Time { return r.UpdatedAt },
		u.cfg.StaleTolerance)

	// 任一数据源仍在报告即视为存活
	alive := make(map[uint64]bool)
	for i, r := range rows {
		alive[*r.EventID] = alive[*r.EventID] || fresh[i]
	}
	var staleIDs, aliveIDs []uint64
	for _, id := range collection.Unique(eventIDsOf(rows)) {
		if alive[id] {
			aliveIDs = append(aliveIDs, id)
		} else {
			staleIDs = append(staleIDs, id)
		}
	}

	disabled, err := s.canonical.SetEventsState(ctx, staleIDs, model.EventActive, model.EventDisabled)
	if err != nil {
		return 0, err
	}
	for _, id := range disabled {
		s.emit(model.UpdateEvent, model.UpdateRemoved, model.EventData{ID: id, State: model.EventDisabled})
	}

	reactivated, err := s.canonical.SetEventsState(ctx, aliveIDs, model.EventDisabled, model.EventActive)
	if err != nil {
		return 0, err
	}
	for _, id := range reactivated {
		s.emit(model.UpdateEvent, model.UpdateUpdated, model.EventData{ID: id, State: model.EventActive})
	}

	if len(disabled) > 0 || len(reactivated) > 0 {
		s.log.WithFields(logrus.Fields{
			"disabled":    len(disabled),
			"reactivated": len(reactivated),
		}).Info("赛事陈旧检测")
	}
	return len(disabled) + len(reactivated), nil
}

func eventIDsOf(rows []*model.SourceEvent) []uint64 {
	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, *r.EventID)
	}
	return ids
}

// detectStaleGames 没有任何数据源仍在报告的共识赔率置为 Removed
func (u *Unifier) detectStaleGames(ctx context.Context, s *stageScope, since time.Time) (int, error) {
	rows, err := s.staging.OutcomeReports(ctx, since)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	fresh := freshByParent(rows,
		func(r *model.SourceOutcome) reportKey { return reportKey{r.Source, r.ExternalEventID} },
		func(r *model.SourceOutcome) time.Time { return r.UpdatedAt },
		u.cfg.StaleTolerance)

	reported := make(map[model.GameKey]bool)
	var eventIDs []uint64
	for i, r := range rows {
		k := r.GameKey()
		reported[k] = reported[k] || fresh[i]
		eventIDs = append(eventIDs, k.EventID)
	}

	games, err := s.canonical.GamesByEventIDs(ctx, collection.Unique(eventIDs))
	if err != nil {
		return 0, err
	}
	byID := make(map[uint64]*model.EventOutcome)
	var staleIDs []uint64
	for _, g := range games {
		if g.State == model.GameRemoved || reported[g.Key()] {
			continue
		}
		byID[g.ID] = g
		staleIDs = append(staleIDs, g.ID)
	}

	removed, err := s.canonical.RemoveGames(ctx, staleIDs)
	if err != nil {
		return 0, err
	}
	for _, id := range removed {
		g := byID[id]
		s.emit(model.UpdateGame, model.UpdateRemoved, model.GameData{
			EventID: g.EventID, MarketID: g.MarketID, OutcomeID: g.OutcomeID,
			Value: g.Value, State: model.GameRemoved,
		})
	}
	if len(removed) > 0 {
		s.log.WithField("removed", len(removed)).Info("赔率陈旧检测")
	}
	return len(removed), nil
}

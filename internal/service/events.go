package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/utils/collection"
	"github.com/bitsmanent/pixelounifier/internal/utils/textutil"
)

// processSourceEvents 赛事阶段：解析赛事，再解析参赛方，最后一次性读回新赛事的完整层级并通知。
// 赛事不跨 sweep 按名称匹配：已回填的行沿用自身 event_id，同批未解析的行按名称归并后新建
func processSourceEvents(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimEvents(ctx)
	if err != nil {
		return 0, err
	}

	var created []uint64
	if len(rows) > 0 {
		if created, err = resolveEvents(ctx, s, rows); err != nil {
			return len(rows), err
		}
		if err := refreshStartTimes(ctx, s, rows); err != nil {
			return len(rows), err
		}
	}

	// 参赛方也可能晚于赛事到达，因此不论本次是否认领到赛事都要处理
	participants, err := processSourceParticipants(ctx, s)
	if err != nil {
		return len(rows) + participants, err
	}

	if err := emitCreatedEvents(ctx, s, created); err != nil {
		return len(rows) + participants, err
	}

	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := s.staging.ClearValueChanged(ctx, "source_events", ids); err != nil {
		return len(rows) + participants, err
	}
	return len(rows) + participants, nil
}

func resolveEvents(ctx context.Context, s *stageScope, rows []*model.SourceEvent) ([]uint64, error) {
	var sources, extIDs []string
	for _, r := range rows {
		sources = append(sources, r.Source)
		extIDs = append(extIDs, r.ExternalManifestationID)
	}
	refs, err := s.staging.ResolvedParents(ctx, "source_manifestations", "manifestation_id", "",
		collection.Unique(sources), collection.Unique(extIDs))
	if err != nil {
		return nil, err
	}
	parents := newParentIndex(refs)

	var created []uint64
	groups := collection.GroupBy(rows, func(r *model.SourceEvent) string { return textutil.NameKey(r.Name) })
	for _, g := range groups {
		var pending []uint64
		var known *uint64
		for _, r := range g.Items {
			if r.EventID != nil {
				if known == nil {
					known = r.EventID
				}
				continue
			}
			pending = append(pending, r.ID)
		}
		if len(pending) == 0 {
			continue
		}

		var id uint64
		if known != nil {
			id = *known
		} else {
			// 首个到达的行决定赛事的名称、开赛时间与所属 manifestation
			first := g.Items[0]
			ev := &model.Event{
				Name:            first.Name,
				NameKey:         g.Key,
				StartTime:       first.StartTime,
				ManifestationID: parents.lookup(first.Source, first.ExternalManifestationID, ""),
				State:           model.EventActive,
			}
			if err := s.canonical.CreateEvent(ctx, ev); err != nil {
				return nil, fmt.Errorf("创建赛事 %q (source=%s external_id=%s): %w", first.Name, first.Source, first.ExternalID, err)
			}
			id = ev.ID
			created = append(created, id)
		}
		if err := s.staging.SetResolved(ctx, "source_events", "event_id", id, pending); err != nil {
			return nil, err
		}
		for _, r := range g.Items {
			if r.EventID == nil {
				r.EventID = &id
			}
		}
	}
	return created, nil
}

// refreshStartTimes 已解析赛事的开赛时间被数据源修改时同步到统一赛事
func refreshStartTimes(ctx context.Context, s *stageScope, rows []*model.SourceEvent) error {
	var ids []uint64
	for _, r := range rows {
		if r.ValueChanged && r.EventID != nil {
			ids = append(ids, *r.EventID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	events, err := s.canonical.GetEventsByIDs(ctx, collection.Unique(ids))
	if err != nil {
		return err
	}
	byID := make(map[uint64]*model.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	for _, r := range rows {
		if !r.ValueChanged || r.EventID == nil {
			continue
		}
		ev := byID[*r.EventID]
		if ev == nil || ev.StartTime.Equal(r.StartTime) {
			continue
		}
		if err := s.canonical.UpdateEventStartTime(ctx, ev.ID, r.StartTime); err != nil {
			return fmt.Errorf("更新赛事 %d 开赛时间: %w", ev.ID, err)
		}
		s.log.WithFields(logrus.Fields{
			"event_id": ev.ID,
			"source":   r.Source,
			"from":     ev.StartTime,
			"to":       r.StartTime,
		}).Info("赛事开赛时间变更")
		ev.StartTime = r.StartTime
		start := r.StartTime
		s.emit(model.UpdateEvent, model.UpdateUpdated, model.EventData{
			ID: ev.ID, State: ev.State, Name: ev.Name, StartTime: &start,
		})
	}
	return nil
}

// processSourceParticipants 参赛方全局按名称去重，并建立赛事与参赛方（主/客）的关联
func processSourceParticipants(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimParticipants(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	var sources, extIDs []string
	for _, r := range rows {
		sources = append(sources, r.Source)
		extIDs = append(extIDs, r.ExternalEventID)
	}
	refs, err := s.staging.ResolvedParents(ctx, "source_events", "event_id", "",
		collection.Unique(sources), collection.Unique(extIDs))
	if err != nil {
		return len(rows), err
	}
	events := newParentIndex(refs)

	groups := collection.GroupBy(rows, func(r *model.SourceParticipant) string { return textutil.NameKey(r.Name) })
	for _, g := range groups {
		var pending []uint64
		var pid *uint64
		for _, r := range g.Items {
			if r.ParticipantID != nil {
				if pid == nil {
					pid = r.ParticipantID
				}
				continue
			}
			pending = append(pending, r.ID)
		}
		if pid == nil {
			p, _, err := s.canonical.EnsureParticipant(ctx, g.Items[0].Name)
			if err != nil {
				return len(rows), fmt.Errorf("解析参赛方 name_key=%s: %w", g.Key, err)
			}
			pid = &p.ID
		}
		if err := s.staging.SetResolved(ctx, "source_participants", "participant_id", *pid, pending); err != nil {
			return len(rows), err
		}
		for _, r := range g.Items {
			eventID := events.lookup(r.Source, r.ExternalEventID, "")
			if eventID == nil {
				continue
			}
			if err := s.canonical.EnsureEventParticipant(ctx, *eventID, *pid, r.TeamRole); err != nil {
				return len(rows), fmt.Errorf("关联赛事 %d 参赛方 %d: %w", *eventID, *pid, err)
			}
		}
	}
	return len(rows), nil
}

// emitCreatedEvents 读回新赛事的层级名称与主客队，生成创建通知
func emitCreatedEvents(ctx context.Context, s *stageScope, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.canonical.EventPayloads(ctx, ids)
	if err != nil {
		return err
	}
	for _, g := range collection.GroupBy(rows, func(r *repository.EventPayloadRow) uint64 { return r.ID }) {
		s.emit(model.UpdateEvent, model.UpdateCreated, buildEventData(g.Items))
	}
	return nil
}

// buildEventData 合并同一赛事的多行读回结果；同一角色有多名参赛方时取第一个
func buildEventData(rows []*repository.EventPayloadRow) model.EventData {
	first := rows[0]
	start := first.StartTime
	data := model.EventData{
		ID:        first.ID,
		State:     first.State,
		Name:      first.Name,
		StartTime: &start,
	}
	if first.GroupName != nil {
		data.GroupName = *first.GroupName
	}
	if first.CategoryName != nil {
		data.CategoryName = *first.CategoryName
	}
	if first.ManifestationName != nil {
		data.ManifestationName = *first.ManifestationName
	}
	for _, r := range rows {
		if r.Role == nil || r.ParticipantName == nil {
			continue
		}
		switch model.TeamRole(*r.Role) {
		case model.RoleHome:
			if data.HomeTeam == "" {
				data.HomeTeam = *r.ParticipantName
			}
		case model.RoleAway:
			if data.AwayTeam == "" {
				data.AwayTeam = *r.ParticipantName
			}
		}
	}
	return data
}

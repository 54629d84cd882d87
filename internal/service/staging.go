package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
)

// StagingService 将上游消息转换为 staging 行并 upsert
type StagingService struct {
	repo   repository.StagingRepository
	logger *logrus.Logger
}

var _ interfaces.StagingWriter = (*StagingService)(nil)

func NewStagingService(repo repository.StagingRepository, logger *logrus.Logger) *StagingService {
	return &StagingService{repo: repo, logger: logger}
}

// dedupByKey 同一批次内自然键重复时保留最后一条（同一条 INSERT ... ON CONFLICT 不能两次命中同一行）
func dedupByKey[T any](rows []T, key func(T) string) []T {
	pos := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (s *StagingService) write(ctx context.Context, kind model.EntityKind, source string, rows any, n int) error {
	if n == 0 {
		return nil
	}
	if err := s.repo.Upsert(ctx, kind, rows); err != nil {
		return fmt.Errorf("%s 写入 %s 失败: %w", source, kind, err)
	}
	s.logger.WithFields(logrus.Fields{"source": source, "kind": kind, "rows": n}).Debug("staging 写入完成")
	return nil
}

func (s *StagingService) WriteGroups(ctx context.Context, source string, groups []model.NamedItem) error {
	rows := make([]*model.SourceGroup, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, &model.SourceGroup{Source: source, ExternalID: g.ID.String(), Name: g.Name})
	}
	rows = dedupByKey(rows, func(r *model.SourceGroup) string { return r.ExternalID })
	return s.write(ctx, model.KindGroup, source, rows, len(rows))
}

func (s *StagingService) WriteCategories(ctx context.Context, source string, p *model.CategoriesPayload) error {
	rows := make([]*model.SourceCategory, 0, len(p.Cates))
	for _, c := range p.Cates {
		rows = append(rows, &model.SourceCategory{
			Source: source, ExternalID: c.ID.String(), ExternalGroupID: p.GroupID.String(), Name: c.Name,
		})
	}
	rows = dedupByKey(rows, func(r *model.SourceCategory) string { return r.ExternalID })
	return s.write(ctx, model.KindCategory, source, rows, len(rows))
}

func (s *StagingService) WriteManifestations(ctx context.Context, source string, p *model.ManifestationsPayload) error {
	rows := make([]*model.SourceManifestation, 0, len(p.Manis))
	for _, m := range p.Manis {
		rows = append(rows, &model.SourceManifestation{
			Source:             source,
			ExternalID:         m.ID.String(),
			ExternalCategoryID: p.CateID.String(),
			ExternalGroupID:    p.GroupID.String(),
			Name:               m.Name,
		})
	}
	rows = dedupByKey(rows, func(r *model.SourceManifestation) string { return r.ExternalID })
	return s.write(ctx, model.KindManifestation, source, rows, len(rows))
}

// WriteEvents 赛事与主客队分两次 upsert，先赛事后参赛方
func (s *StagingService) WriteEvents(ctx context.Context, source string, p *model.EventsPayload) error {
	events := make([]*model.SourceEvent, 0, len(p.Events))
	participants := make([]*model.SourceParticipant, 0, len(p.Events)*2)
	for _, e := range p.Events {
		events = append(events, &model.SourceEvent{
			Source:                  source,
			ExternalID:              e.ID.String(),
			ExternalManifestationID: p.ManiID.String(),
			Name:                    e.Name,
			StartTime:               e.Date.UTC(),
		})
		if e.HomeTeamID != "" {
			participants = append(participants, &model.SourceParticipant{
				Source: source, ExternalID: e.HomeTeamID.String(), ExternalEventID: e.ID.String(),
				TeamRole: model.RoleHome, Name: e.HomeTeam,
			})
		}
		if e.AwayTeamID != "" {
			participants = append(participants, &model.SourceParticipant{
				Source: source, ExternalID: e.AwayTeamID.String(), ExternalEventID: e.ID.String(),
				TeamRole: model.RoleAway, Name: e.AwayTeam,
			})
		}
	}
	events = dedupByKey(events, func(r *model.SourceEvent) string { return r.ExternalID })
	participants = dedupByKey(participants, func(r *model.SourceParticipant) string {
		return joinKey(r.ExternalID, r.ExternalEventID, string(r.TeamRole))
	})
	if err := s.write(ctx, model.KindEvent, source, events, len(events)); err != nil {
		return err
	}
	return s.write(ctx, model.KindParticipant, source, participants, len(participants))
}

func (s *StagingService) WriteMarkets(ctx context.Context, source string, p *model.MarketsPayload) error {
	rows := make([]*model.SourceMarket, 0, len(p.Classes))
	for _, m := range p.Classes {
		rows = append(rows, &model.SourceMarket{
			Source: source, ExternalID: m.ID.String(), ExternalGroupID: p.GroupID.String(), Name: m.Name,
		})
	}
	rows = dedupByKey(rows, func(r *model.SourceMarket) string { return r.ExternalID })
	return s.write(ctx, model.KindMarket, source, rows, len(rows))
}

func (s *StagingService) WriteOutcomes(ctx context.Context, source string, games []model.GameItem) error {
	rows := make([]*model.SourceOutcome, 0, len(games))
	for _, g := range games {
		state := model.OutcomeDisabled
		if g.Enabled {
			state = model.OutcomeActive
		}
		rows = append(rows, &model.SourceOutcome{
			Source:           source,
			ExternalID:       g.OutcomeID.String(),
			ExternalMarketID: g.MarketID.String(),
			ExternalEventID:  g.EventID.String(),
			Name:             g.OutcomeName,
			Value:            g.Odd,
			State:            state,
		})
	}
	rows = dedupByKey(rows, func(r *model.SourceOutcome) string {
		return joinKey(r.ExternalID, r.ExternalMarketID, r.ExternalEventID)
	})
	return s.write(ctx, model.KindOutcome, source, rows, len(rows))
}

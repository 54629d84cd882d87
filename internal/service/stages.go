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

// stagedName 按名称去重的 staging 行的通用视图
type stagedName struct {
	ID       uint64
	Source   string
	Name     string
	Resolved *uint64 // 已回填的 canonical id
	Parent   *uint64 // 上级 canonical id
}

// ensureFunc 按名称解析或创建 canonical 行，返回 id 与是否新建
type ensureFunc func(ctx context.Context, name string, parent *uint64) (uint64, bool, error)

// resolveByName 按规范化名称分组；组内已有回填 id 的直接沿用，否则按名称解析或创建，
// 再把 id 回填到组内未解析的行。onCreate 仅在本次新建时调用
func resolveByName(ctx context.Context, s *stageScope, table, column string, rows []stagedName,
	ensure ensureFunc, onCreate func(id uint64, first stagedName)) error {
	groups := collection.GroupBy(rows, func(r stagedName) string { return textutil.NameKey(r.Name) })
	for _, g := range groups {
		var pending []uint64
		var known *uint64
		for _, r := range g.Items {
			if r.Resolved != nil {
				if known == nil {
					known = r.Resolved
				}
				continue
			}
			pending = append(pending, r.ID)
		}
		if len(pending) == 0 {
			continue
		}

		first := g.Items[0]
		var id uint64
		if known != nil {
			id = *known
		} else {
			var created bool
			var err error
			id, created, err = ensure(ctx, first.Name, first.Parent)
			if err != nil {
				return fmt.Errorf("解析 %s name_key=%s: %w", table, g.Key, err)
			}
			if created {
				onCreate(id, first)
			}
		}
		if err := s.staging.SetResolved(ctx, table, column, id, pending); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"name_key":     g.Key,
			"canonical_id": id,
			"rows":         len(pending),
		}).Debug("已回填")
	}
	return nil
}

type parentKey struct {
	source     string
	externalID string
	scope      string
}

// parentIndex 已解析上级的索引；scope 为空的查询同时按 (source, external_id) 兜底
type parentIndex map[parentKey]uint64

func newParentIndex(refs []repository.ParentRef) parentIndex {
	idx := make(parentIndex, len(refs)*2)
	for _, r := range refs {
		idx[parentKey{r.Source, r.ExternalID, r.Scope}] = r.ID
		loose := parentKey{r.Source, r.ExternalID, ""}
		if cur, ok := idx[loose]; !ok || r.ID < cur {
			idx[loose] = r.ID
		}
	}
	return idx
}

func (idx parentIndex) lookup(source, externalID, scope string) *uint64 {
	if id, ok := idx[parentKey{source, externalID, scope}]; ok {
		return &id
	}
	return nil
}

func processSourceGroups(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimGroups(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	named := make([]stagedName, 0, len(rows))
	for _, r := range rows {
		named = append(named, stagedName{ID: r.ID, Source: r.Source, Name: r.Name, Resolved: r.GroupID})
	}
	err = resolveByName(ctx, s, "source_groups", "group_id", named,
		func(ctx context.Context, name string, _ *uint64) (uint64, bool, error) {
			g, created, err := s.canonical.EnsureGroup(ctx, name)
			if err != nil {
				return 0, false, err
			}
			return g.ID, created, nil
		},
		func(id uint64, first stagedName) {
			s.emit(model.UpdateGroup, model.UpdateCreated, model.GroupData{ID: id, Name: first.Name})
		})
	return len(rows), err
}

func processSourceCategories(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimCategories(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	var sources, extIDs []string
	for _, r := range rows {
		sources = append(sources, r.Source)
		extIDs = append(extIDs, r.ExternalGroupID)
	}
	refs, err := s.staging.ResolvedParents(ctx, "source_groups", "group_id", "",
		collection.Unique(sources), collection.Unique(extIDs))
	if err != nil {
		return len(rows), err
	}
	parents := newParentIndex(refs)

	named := make([]stagedName, 0, len(rows))
	for _, r := range rows {
		named = append(named, stagedName{
			ID: r.ID, Source: r.Source, Name: r.Name, Resolved: r.CategoryID,
			Parent: parents.lookup(r.Source, r.ExternalGroupID, ""),
		})
	}
	err = resolveByName(ctx, s, "source_categories", "category_id", named,
		func(ctx context.Context, name string, groupID *uint64) (uint64, bool, error) {
			c, created, err := s.canonical.EnsureCategory(ctx, name, groupID)
			if err != nil {
				return 0, false, err
			}
			return c.ID, created, nil
		},
		func(id uint64, first stagedName) {
			s.emit(model.UpdateCategory, model.UpdateCreated, model.CategoryData{ID: id, Name: first.Name, GroupID: first.Parent})
		})
	return len(rows), err
}

func processSourceManifestations(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimManifestations(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	var sources, extIDs []string
	for _, r := range rows {
		sources = append(sources, r.Source)
		extIDs = append(extIDs, r.ExternalCategoryID)
	}
	refs, err := s.staging.ResolvedParents(ctx, "source_categories", "category_id", "external_group_id",
		collection.Unique(sources), collection.Unique(extIDs))
	if err != nil {
		return len(rows), err
	}
	parents := newParentIndex(refs)

	named := make([]stagedName, 0, len(rows))
	for _, r := range rows {
		named = append(named, stagedName{
			ID: r.ID, Source: r.Source, Name: r.Name, Resolved: r.ManifestationID,
			Parent: parents.lookup(r.Source, r.ExternalCategoryID, r.ExternalGroupID),
		})
	}
	err = resolveByName(ctx, s, "source_manifestations", "manifestation_id", named,
		func(ctx context.Context, name string, categoryID *uint64) (uint64, bool, error) {
			m, created, err := s.canonical.EnsureManifestation(ctx, name, categoryID)
			if err != nil {
				return 0, false, err
			}
			return m.ID, created, nil
		},
		func(id uint64, first stagedName) {
			s.emit(model.UpdateManifestation, model.UpdateCreated, model.ManifestationData{ID: id, Name: first.Name, CategoryID: first.Parent})
		})
	return len(rows), err
}

// processSourceMarkets 盘口全局按名称去重，与所属赛事层级无关；仅要求上级 group 已解析
func processSourceMarkets(ctx context.Context, s *stageScope) (int, error) {
	rows, err := s.staging.ClaimMarkets(ctx)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	named := make([]stagedName, 0, len(rows))
	for _, r := range rows {
		named = append(named, stagedName{ID: r.ID, Source: r.Source, Name: r.Name, Resolved: r.MarketID})
	}
	err = resolveByName(ctx, s, "source_markets", "market_id", named,
		func(ctx context.Context, name string, _ *uint64) (uint64, bool, error) {
			m, created, err := s.canonical.EnsureMarket(ctx, name)
			if err != nil {
				return 0, false, err
			}
			return m.ID, created, nil
		},
		func(id uint64, first stagedName) {
			s.emit(model.UpdateMarket, model.UpdateCreated, model.MarketData{ID: id, Name: first.Name})
		})
	return len(rows), err
}

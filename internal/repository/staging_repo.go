package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitsmanent/pixelounifier/internal/model"
)

// UpsertSpec 一类 staging 行的 upsert 规则
type UpsertSpec struct {
	Table         string
	InsertFields  []string // 插入及冲突时覆盖的字段
	ConflictKeys  []string // 自然键
	TrackedFields []string // 这些字段真实变化时置 value_changed
}

var upsertSpecs = map[model.EntityKind]UpsertSpec{
	model.KindGroup: {
		Table:         "source_groups",
		InsertFields:  []string{"source", "external_id", "name"},
		ConflictKeys:  []string{"source", "external_id"},
		TrackedFields: []string{"name"},
	},
	model.KindCategory: {
		Table:         "source_categories",
		InsertFields:  []string{"source", "external_id", "external_group_id", "name"},
		ConflictKeys:  []string{"source", "external_id", "external_group_id"},
		TrackedFields: []string{"name"},
	},
	model.KindManifestation: {
		Table:         "source_manifestations",
		InsertFields:  []string{"source", "external_id", "external_category_id", "external_group_id", "name"},
		ConflictKeys:  []string{"source", "external_id", "external_category_id", "external_group_id"},
		TrackedFields: []string{"name"},
	},
	model.KindEvent: {
		Table:         "source_events",
		InsertFields:  []string{"source", "external_id", "external_manifestation_id", "name", "start_time"},
		ConflictKeys:  []string{"source", "external_id", "external_manifestation_id"},
		TrackedFields: []string{"name", "start_time"},
	},
	model.KindParticipant: {
		Table:         "source_participants",
		InsertFields:  []string{"source", "external_id", "external_event_id", "team_role", "name"},
		ConflictKeys:  []string{"source", "external_id", "external_event_id", "team_role"},
		TrackedFields: []string{"name"},
	},
	model.KindMarket: {
		Table:         "source_markets",
		InsertFields:  []string{"source", "external_id", "external_group_id", "name"},
		ConflictKeys:  []string{"source", "external_id", "external_group_id"},
		TrackedFields: []string{"name"},
	},
	model.KindOutcome: {
		Table:         "source_outcomes",
		InsertFields:  []string{"source", "external_id", "external_market_id", "external_event_id", "name", "value", "state"},
		ConflictKeys:  []string{"source", "external_id", "external_market_id", "external_event_id"},
		TrackedFields: []string{"name", "value", "state"},
	},
}

// specFor 返回实体类型对应的 upsert 规则
func specFor(kind model.EntityKind) (UpsertSpec, bool) {
	spec, ok := upsertSpecs[kind]
	return spec, ok
}

// ParentRef 已解析的上级 staging 行：(source, external_id[, scope]) -> canonical id
type ParentRef struct {
	Source     string
	ExternalID string
	Scope      string
	ID         uint64
}

// StagingRepository staging 表读写。upsert 供写入方使用，其余方法只由统一引擎调用
type StagingRepository interface {
	// Upsert 按实体类型的默认规则写入，rows 为 []*model.SourceXxx
	Upsert(ctx context.Context, kind model.EntityKind, rows any) error
	UpsertWithSpec(ctx context.Context, spec UpsertSpec, rows any) error

	ClaimGroups(ctx context.Context) ([]*model.SourceGroup, error)
	ClaimCategories(ctx context.Context) ([]*model.SourceCategory, error)
	ClaimManifestations(ctx context.Context) ([]*model.SourceManifestation, error)
	// ClaimEvents 保留 value_changed，处理完后由 ClearValueChanged 清除
	ClaimEvents(ctx context.Context) ([]*model.SourceEvent, error)
	ClaimParticipants(ctx context.Context) ([]*model.SourceParticipant, error)
	ClaimMarkets(ctx context.Context) ([]*model.SourceMarket, error)
	ClaimOutcomes(ctx context.Context) ([]*model.SourceOutcome, error)
	ClearValueChanged(ctx context.Context, table string, ids []uint64) error

	// ResolvedParents 查询已解析的上级行；scopeColumn 为空表示只按 (source, external_id) 匹配
	ResolvedParents(ctx context.Context, table, idColumn, scopeColumn string, sources, externalIDs []string) ([]ParentRef, error)
	// SetResolved 回填 canonical 外键
	SetResolved(ctx context.Context, table, column string, canonicalID uint64, rowIDs []uint64) error

	// ResolvedOutcomesForEvents 三个外键都已解析的 staging 赔率
	ResolvedOutcomesForEvents(ctx context.Context, eventIDs []uint64) ([]*model.SourceOutcome, error)
	// EventReports 开赛时间不早于 since 且已解析的 staging 赛事（陈旧检测用）
	EventReports(ctx context.Context, since time.Time) ([]*model.SourceEvent, error)
	// OutcomeReports 所属赛事开赛时间不早于 since 且已完全解析的 staging 赔率
	OutcomeReports(ctx context.Context, since time.Time) ([]*model.SourceOutcome, error)
}

type stagingRepository struct {
	db *gorm.DB
}

// NewStagingRepository 创建 StagingRepository；传入事务即在事务内执行
func NewStagingRepository(db *gorm.DB) StagingRepository {
	return &stagingRepository{db: db}
}

func (r *stagingRepository) Upsert(ctx context.Context, kind model.EntityKind, rows any) error {
	spec, ok := specFor(kind)
	if !ok {
		return fmt.Errorf("未知的实体类型: %s", kind)
	}
	return r.UpsertWithSpec(ctx, spec, rows)
}

// UpsertWithSpec 批量 insert-or-update。每次调用的所有行共用同一 updated_at；
// 冲突时无条件置 changed，仅当跟踪字段不同才置 value_changed（已置位则保持）
func (r *stagingRepository) UpsertWithSpec(ctx context.Context, spec UpsertSpec, rows any) error {
	rv := reflect.ValueOf(rows)
	if rv.Kind() != reflect.Slice {
		return fmt.Errorf("upsert %s: rows 必须为切片，实际 %T", spec.Table, rows)
	}
	if rv.Len() == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := 0; i < rv.Len(); i++ {
		row, ok := rv.Index(i).Interface().(model.StagingRow)
		if !ok {
			return fmt.Errorf("upsert %s: 不支持的行类型 %T", spec.Table, rv.Index(i).Interface())
		}
		row.Stamp(now)
	}

	conflict := make([]clause.Column, 0, len(spec.ConflictKeys))
	isKey := make(map[string]bool, len(spec.ConflictKeys))
	for _, k := range spec.ConflictKeys {
		conflict = append(conflict, clause.Column{Name: k})
		isKey[k] = true
	}
	var overwrite []string
	for _, f := range spec.InsertFields {
		if !isKey[f] {
			overwrite = append(overwrite, f)
		}
	}
	overwrite = append(overwrite, "updated_at")

	set := clause.AssignmentColumns(overwrite)
	set = append(set,
		clause.Assignment{Column: clause.Column{Name: "changed"}, Value: true},
		clause.Assignment{Column: clause.Column{Name: "value_changed"}, Value: gorm.Expr(valueChangedExpr(spec))},
	)

	columns := append(append([]string{}, spec.InsertFields...), "changed", "value_changed", "updated_at")
	err := r.db.WithContext(ctx).
		Table(spec.Table).
		Select(columns).
		Clauses(clause.OnConflict{Columns: conflict, DoUpdates: set}).
		Create(rows).Error
	if err != nil {
		return fmt.Errorf("upsert %s 失败: %w", spec.Table, err)
	}
	return nil
}

// valueChangedExpr 生成 "t.value_changed OR (t.a IS DISTINCT FROM excluded.a OR ...)"
func valueChangedExpr(spec UpsertSpec) string {
	current := quote(spec.Table) + ".value_changed"
	if len(spec.TrackedFields) == 0 {
		return current
	}
	diffs := make([]string, 0, len(spec.TrackedFields))
	for _, f := range spec.TrackedFields {
		diffs = append(diffs, fmt.Sprintf("%s.%s IS DISTINCT FROM excluded.%s", quote(spec.Table), quote(f), quote(f)))
	}
	return current + " OR (" + strings.Join(diffs, " OR ") + ")"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// 认领条件：上级 staging 行（同一数据源）已解析
const (
	gateCategory = `EXISTS (SELECT 1 FROM source_groups p
		WHERE p.source = source_categories.source
		AND p.external_id = source_categories.external_group_id
		AND p.group_id IS NOT NULL)`
	gateManifestation = `EXISTS (SELECT 1 FROM source_categories p
		WHERE p.source = source_manifestations.source
		AND p.external_id = source_manifestations.external_category_id
		AND (source_manifestations.external_group_id = '' OR p.external_group_id = source_manifestations.external_group_id)
		AND p.category_id IS NOT NULL)`
	gateEvent = `EXISTS (SELECT 1 FROM source_manifestations p
		WHERE p.source = source_events.source
		AND p.external_id = source_events.external_manifestation_id
		AND p.manifestation_id IS NOT NULL)`
	gateParticipant = `EXISTS (SELECT 1 FROM source_events p
		WHERE p.source = source_participants.source
		AND p.external_id = source_participants.external_event_id
		AND p.event_id IS NOT NULL)`
	gateMarket = `EXISTS (SELECT 1 FROM source_groups p
		WHERE p.source = source_markets.source
		AND p.external_id = source_markets.external_group_id
		AND p.group_id IS NOT NULL)`
	gateOutcome = `EXISTS (SELECT 1 FROM source_markets p
		WHERE p.source = source_outcomes.source
		AND p.external_id = source_outcomes.external_market_id
		AND p.market_id IS NOT NULL)
		AND EXISTS (SELECT 1 FROM source_events p
		WHERE p.source = source_outcomes.source
		AND p.external_id = source_outcomes.external_event_id
		AND p.event_id IS NOT NULL)`
)

// claim 原子地清除 changed 并返回被认领的行 id，随后按 id 读出整行
func (r *stagingRepository) claim(ctx context.Context, table, gate string, keepValueChanged bool, dest any) error {
	set := "changed = ?, value_changed = ?"
	args := []any{false, false}
	if keepValueChanged {
		set = "changed = ?"
		args = args[:1]
	}
	sql := "UPDATE " + table + " SET " + set + " WHERE changed = ?"
	args = append(args, true)
	if gate != "" {
		sql += " AND " + gate
	}
	sql += " RETURNING id"

	var ids []uint64
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&ids).Error; err != nil {
		return fmt.Errorf("认领 %s 失败: %w", table, err)
	}
	if len(ids) == 0 {
		return nil
	}
	return r.findByIDs(ctx, table, ids, dest)
}

const idChunk = 1000

// findByIDs 分块读取，dest 为指向切片的指针
func (r *stagingRepository) findByIDs(ctx context.Context, table string, ids []uint64, dest any) error {
	out := reflect.ValueOf(dest).Elem()
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		chunk := reflect.New(out.Type())
		if err := r.db.WithContext(ctx).Table(table).Where("id IN ?", ids[start:end]).Order("id").Find(chunk.Interface()).Error; err != nil {
			return fmt.Errorf("读取 %s 失败: %w", table, err)
		}
		out.Set(reflect.AppendSlice(out, chunk.Elem()))
	}
	return nil
}

func (r *stagingRepository) ClaimGroups(ctx context.Context) ([]*model.SourceGroup, error) {
	var rows []*model.SourceGroup
	err := r.claim(ctx, "source_groups", "", false, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimCategories(ctx context.Context) ([]*model.SourceCategory, error) {
	var rows []*model.SourceCategory
	err := r.claim(ctx, "source_categories", gateCategory, false, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimManifestations(ctx context.Context) ([]*model.SourceManifestation, error) {
	var rows []*model.SourceManifestation
	err := r.claim(ctx, "source_manifestations", gateManifestation, false, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimEvents(ctx context.Context) ([]*model.SourceEvent, error) {
	var rows []*model.SourceEvent
	err := r.claim(ctx, "source_events", gateEvent, true, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimParticipants(ctx context.Context) ([]*model.SourceParticipant, error) {
	var rows []*model.SourceParticipant
	err := r.claim(ctx, "source_participants", gateParticipant, false, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimMarkets(ctx context.Context) ([]*model.SourceMarket, error) {
	var rows []*model.SourceMarket
	err := r.claim(ctx, "source_markets", gateMarket, false, &rows)
	return rows, err
}

func (r *stagingRepository) ClaimOutcomes(ctx context.Context) ([]*model.SourceOutcome, error) {
	var rows []*model.SourceOutcome
	err := r.claim(ctx, "source_outcomes", gateOutcome, false, &rows)
	return rows, err
}

func (r *stagingRepository) ClearValueChanged(ctx context.Context, table string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Table(table).Where("id IN ?", ids).Update("value_changed", false).Error
}

func (r *stagingRepository) ResolvedParents(ctx context.Context, table, idColumn, scopeColumn string, sources, externalIDs []string) ([]ParentRef, error) {
	if len(sources) == 0 || len(externalIDs) == 0 {
		return nil, nil
	}
	scope := "''"
	groupBy := "source, external_id"
	if scopeColumn != "" {
		scope = scopeColumn
		groupBy += ", " + scopeColumn
	}
	var refs []ParentRef
	err := r.db.WithContext(ctx).
		Table(table).
		Select("source, external_id, "+scope+" AS scope, MIN("+idColumn+") AS id").
		Where(idColumn+" IS NOT NULL AND source IN ? AND external_id IN ?", sources, externalIDs).
		Group(groupBy).
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("查询已解析的 %s 失败: %w", table, err)
	}
	return refs, nil
}

func (r *stagingRepository) SetResolved(ctx context.Context, table, column string, canonicalID uint64, rowIDs []uint64) error {
	for start := 0; start < len(rowIDs); start += idChunk {
		end := min(start+idChunk, len(rowIDs))
		if err := r.db.WithContext(ctx).Table(table).Where("id IN ?", rowIDs[start:end]).Update(column, canonicalID).Error; err != nil {
			return fmt.Errorf("回填 %s.%s 失败: %w", table, column, err)
		}
	}
	return nil
}

func (r *stagingRepository) ResolvedOutcomesForEvents(ctx context.Context, eventIDs []uint64) ([]*model.SourceOutcome, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var rows []*model.SourceOutcome
	err := r.db.WithContext(ctx).
		Where("event_id IN ? AND market_id IS NOT NULL AND outcome_id IS NOT NULL", eventIDs).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func (r *stagingRepository) EventReports(ctx context.Context, since time.Time) ([]*model.SourceEvent, error) {
	var rows []*model.SourceEvent
	err := r.db.WithContext(ctx).
		Where("event_id IS NOT NULL AND start_time >= ?", since).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func (r *stagingRepository) OutcomeReports(ctx context.Context, since time.Time) ([]*model.SourceOutcome, error) {
	var rows []*model.SourceOutcome
	err := r.db.WithContext(ctx).
		Where("event_id IN (SELECT id FROM events WHERE start_time >= ?)", since).
		Where("market_id IS NOT NULL AND outcome_id IS NOT NULL").
		Order("id").
		Find(&rows).Error
	return rows, err
}

package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/utils/textutil"
)

// CanonicalRepository 统一实体仓储。按 name_key 去重的实体采用
// "INSERT ... ON CONFLICT (name_key) DO NOTHING + 查询" 的方式解析或创建
type CanonicalRepository interface {
	// EnsureXxx 返回的 bool 表示本次是否新建
	EnsureGroup(ctx context.Context, name string) (*model.Group, bool, error)
	EnsureCategory(ctx context.Context, name string, groupID *uint64) (*model.Category, bool, error)
	EnsureManifestation(ctx context.Context, name string, categoryID *uint64) (*model.Manifestation, bool, error)
	EnsureParticipant(ctx context.Context, name string) (*model.Participant, bool, error)
	EnsureMarket(ctx context.Context, name string) (*model.Market, bool, error)
	EnsureOutcome(ctx context.Context, name string) (*model.Outcome, bool, error)

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEventsByIDs(ctx context.Context, ids []uint64) ([]*model.Event, error)
	UpdateEventStartTime(ctx context.Context, id uint64, startTime time.Time) error
	// SetEventsState 仅修改当前状态为 from 的赛事，返回实际修改的 id
	SetEventsState(ctx context.Context, ids []uint64, from, to model.EventState) ([]uint64, error)
	EnsureEventParticipant(ctx context.Context, eventID, participantID uint64, role model.TeamRole) error
	// EventPayloads 一次关联查询取出赛事及其层级名称与主客队
	EventPayloads(ctx context.Context, ids []uint64) ([]*EventPayloadRow, error)

	GamesByEventIDs(ctx context.Context, eventIDs []uint64) ([]*model.EventOutcome, error)
	CreateGame(ctx context.Context, g *model.EventOutcome) error
	UpdateGame(ctx context.Context, id uint64, value int64, state model.GameState) error
	// RemoveGames 将未处于 Removed 的赔率置为 Removed，返回实际修改的 id
	RemoveGames(ctx context.Context, ids []uint64) ([]uint64, error)
}

// EventPayloadRow 赛事读回视图，每个参赛方一行
type EventPayloadRow struct {
	ID                uint64
	Name              string
	StartTime         time.Time
	State             model.EventState
	ManifestationID   *uint64
	ManifestationName *string
	CategoryName      *string
	GroupName         *string
	Role              *string
	ParticipantName   *string
}

type canonicalRepository struct {
	db *gorm.DB
}

func NewCanonicalRepository(db *gorm.DB) CanonicalRepository {
	return &canonicalRepository{db: db}
}

// ensureByNameKey 插入（name_key 冲突时忽略），未插入则按 name_key 读取已存在的行
func ensureByNameKey[T any](ctx context.Context, db *gorm.DB, row *T, nameKey string) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	var existing T
	if err := db.WithContext(ctx).Where("name_key = ?", nameKey).First(&existing).Error; err != nil {
		return false, fmt.Errorf("按 name_key=%s 读取失败: %w", nameKey, err)
	}
	*row = existing
	return false, nil
}

func (r *canonicalRepository) EnsureGroup(ctx context.Context, name string) (*model.Group, bool, error) {
	g := &model.Group{Name: name, NameKey: textutil.NameKey(name)}
	created, err := ensureByNameKey(ctx, r.db, g, g.NameKey)
	return g, created, err
}

func (r *canonicalRepository) EnsureCategory(ctx context.Context, name string, groupID *uint64) (*model.Category, bool, error) {
	c := &model.Category{Name: name, NameKey: textutil.NameKey(name), GroupID: groupID}
	created, err := ensureByNameKey(ctx, r.db, c, c.NameKey)
	if err != nil || created {
		return c, created, err
	}
	if c.GroupID == nil && groupID != nil {
		if err := r.db.WithContext(ctx).Model(&model.Category{}).Where("id = ? AND group_id IS NULL", c.ID).Update("group_id", *groupID).Error; err != nil {
			return nil, false, err
		}
		c.GroupID = groupID
	}
	return c, false, nil
}

func (r *canonicalRepository) EnsureManifestation(ctx context.Context, name string, categoryID *uint64) (*model.Manifestation, bool, error) {
	m := &model.Manifestation{Name: name, NameKey: textutil.NameKey(name), CategoryID: categoryID}
	created, err := ensureByNameKey(ctx, r.db, m, m.NameKey)
	if err != nil || created {
		return m, created, err
	}
	if m.CategoryID == nil && categoryID != nil {
		if err := r.db.WithContext(ctx).Model(&model.Manifestation{}).Where("id = ? AND category_id IS NULL", m.ID).Update("category_id", *categoryID).Error; err != nil {
			return nil, false, err
		}
		m.CategoryID = categoryID
	}
	return m, false, nil
}

func (r *canonicalRepository) EnsureParticipant(ctx context.Context, name string) (*model.Participant, bool, error) {
	p := &model.Participant{Name: name, NameKey: textutil.NameKey(name)}
	created, err := ensureByNameKey(ctx, r.db, p, p.NameKey)
	return p, created, err
}

func (r *canonicalRepository) EnsureMarket(ctx context.Context, name string) (*model.Market, bool, error) {
	m := &model.Market{Name: name, NameKey: textutil.NameKey(name)}
	created, err := ensureByNameKey(ctx, r.db, m, m.NameKey)
	return m, created, err
}

func (r *canonicalRepository) EnsureOutcome(ctx context.Context, name string) (*model.Outcome, bool, error) {
	o := &model.Outcome{Name: name, NameKey: textutil.NameKey(name)}
	created, err := ensureByNameKey(ctx, r.db, o, o.NameKey)
	return o, created, err
}

func (r *canonicalRepository) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.NameKey == "" {
		e.NameKey = textutil.NameKey(e.Name)
	}
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *canonicalRepository) GetEventsByIDs(ctx context.Context, ids []uint64) ([]*model.Event, error) {
	if len(ids) == 0 {
		return []*model.Event{}, nil
	}
	var events []*model.Event
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *canonicalRepository) UpdateEventStartTime(ctx context.Context, id uint64, startTime time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Event{ID: id}).Update("start_time", startTime).Error
}

func (r *canonicalRepository) SetEventsState(ctx context.Context, ids []uint64, from, to model.EventState) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var changed []uint64
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		var chunk []uint64
		err := r.db.WithContext(ctx).Raw(
			"UPDATE events SET state = ?, updated_at = ? WHERE id IN ? AND state = ? RETURNING id",
			to, now, ids[start:end], from,
		).Scan(&chunk).Error
		if err != nil {
			return nil, fmt.Errorf("更新赛事状态失败: %w", err)
		}
		changed = append(changed, chunk...)
	}
	return changed, nil
}

func (r *canonicalRepository) EnsureEventParticipant(ctx context.Context, eventID, participantID uint64, role model.TeamRole) error {
	ep := &model.EventParticipant{EventID: eventID, ParticipantID: participantID, Role: role}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "participant_id"}},
		DoNothing: true,
	}).Create(ep).Error
}

func (r *canonicalRepository) EventPayloads(ctx context.Context, ids []uint64) ([]*EventPayloadRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*EventPayloadRow
	err := r.db.WithContext(ctx).
		Table("events AS e").
		Select(`e.id, e.name, e.start_time, e.state, e.manifestation_id,
			m.name AS manifestation_name, c.name AS category_name, g.name AS group_name,
			ep.role AS role, p.name AS participant_name`).
		Joins("LEFT JOIN manifestations m ON m.id = e.manifestation_id").
		Joins("LEFT JOIN categories c ON c.id = m.category_id").
		Joins(`LEFT JOIN "groups" g ON g.id = c.group_id`).
		Joins("LEFT JOIN event_participants ep ON ep.event_id = e.id").
		Joins("LEFT JOIN participants p ON p.id = ep.participant_id").
		Where("e.id IN ?", ids).
		Order("e.id, ep.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("读回赛事层级失败: %w", err)
	}
	return rows, nil
}

func (r *canonicalRepository) GamesByEventIDs(ctx context.Context, eventIDs []uint64) ([]*model.EventOutcome, error) {
	if len(eventIDs) == 0 {
		return []*model.EventOutcome{}, nil
	}
	var games []*model.EventOutcome
	if err := r.db.WithContext(ctx).Where("event_id IN ?", eventIDs).Order("id").Find(&games).Error; err != nil {
		return nil, err
	}
	return games, nil
}

func (r *canonicalRepository) CreateGame(ctx context.Context, g *model.EventOutcome) error {
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *canonicalRepository) UpdateGame(ctx context.Context, id uint64, value int64, state model.GameState) error {
	res := r.db.WithContext(ctx).Model(&model.EventOutcome{ID: id}).Updates(map[string]interface{}{
		"value": value,
		"state": state,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("event_outcome %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *canonicalRepository) RemoveGames(ctx context.Context, ids []uint64) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var changed []uint64
	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		var chunk []uint64
		err := r.db.WithContext(ctx).Raw(
			"UPDATE event_outcomes SET state = ?, updated_at = ? WHERE id IN ? AND state <> ? RETURNING id",
			model.GameRemoved, now, ids[start:end], model.GameRemoved,
		).Scan(&chunk).Error
		if err != nil {
			return nil, fmt.Errorf("标记赔率移除失败: %w", err)
		}
		changed = append(changed, chunk...)
	}
	return changed, nil
}

package model

import (
	"time"
)

// StagingMeta 所有 staging 表共有的变更标记。
// Changed 每次 upsert 置 true，统一引擎传播完成后清除；
// ValueChanged 仅在跟踪字段真实变化时置 true；
// UpdatedAt 为数据源最后一次上报时间，引擎回填外键时不改动它（陈旧检测依赖它）。
type StagingMeta struct {
	Changed      bool      `gorm:"column:changed;not null;index"`
	ValueChanged bool      `gorm:"column:value_changed;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamp;not null;autoUpdateTime:false"`
}

// Stamp 标记一次上报：新插入的行视为已变化
func (m *StagingMeta) Stamp(now time.Time) {
	m.Changed = true
	m.ValueChanged = true
	m.UpdatedAt = now
}

// StagingRow 所有 staging 行实现此接口，供通用 upsert 打时间戳
type StagingRow interface {
	Stamp(now time.Time)
}

type SourceGroup struct {
	ID         uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	Source     string  `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_groups_key"`
	ExternalID string  `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_groups_key"`
	Name       string  `gorm:"column:name;type:varchar(256);not null"`
	GroupID    *uint64 `gorm:"column:group_id;index"`
	StagingMeta
}

type SourceCategory struct {
	ID              uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	Source          string  `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_categories_key"`
	ExternalID      string  `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_categories_key"`
	ExternalGroupID string  `gorm:"column:external_group_id;type:varchar(128);not null;uniqueIndex:uq_source_categories_key"`
	Name            string  `gorm:"column:name;type:varchar(256);not null"`
	CategoryID      *uint64 `gorm:"column:category_id;index"`
	StagingMeta
}

type SourceManifestation struct {
	ID                 uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	Source             string  `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_manifestations_key"`
	ExternalID         string  `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_manifestations_key"`
	ExternalCategoryID string  `gorm:"column:external_category_id;type:varchar(128);not null;uniqueIndex:uq_source_manifestations_key"`
	ExternalGroupID    string  `gorm:"column:external_group_id;type:varchar(128);not null;uniqueIndex:uq_source_manifestations_key"`
	Name               string  `gorm:"column:name;type:varchar(256);not null"`
	ManifestationID    *uint64 `gorm:"column:manifestation_id;index"`
	StagingMeta
}

type SourceEvent struct {
	ID                      uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Source                  string    `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_events_key"`
	ExternalID              string    `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_events_key"`
	ExternalManifestationID string    `gorm:"column:external_manifestation_id;type:varchar(128);not null;uniqueIndex:uq_source_events_key"`
	Name                    string    `gorm:"column:name;type:varchar(256);not null"`
	StartTime               time.Time `gorm:"column:start_time;type:timestamp;not null"`
	EventID                 *uint64   `gorm:"column:event_id;index"`
	StagingMeta
}

type SourceParticipant struct {
	ID              uint64   `gorm:"column:id;primaryKey;autoIncrement"`
	Source          string   `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_participants_key"`
	ExternalID      string   `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_participants_key"`
	ExternalEventID string   `gorm:"column:external_event_id;type:varchar(128);not null;uniqueIndex:uq_source_participants_key"`
	TeamRole        TeamRole `gorm:"column:team_role;type:varchar(8);not null;uniqueIndex:uq_source_participants_key"`
	Name            string   `gorm:"column:name;type:varchar(256);not null"`
	ParticipantID   *uint64  `gorm:"column:participant_id;index"`
	StagingMeta
}

type SourceMarket struct {
	ID              uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	Source          string  `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_markets_key"`
	ExternalID      string  `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_markets_key"`
	ExternalGroupID string  `gorm:"column:external_group_id;type:varchar(128);not null;uniqueIndex:uq_source_markets_key"`
	Name            string  `gorm:"column:name;type:varchar(256);not null"`
	MarketID        *uint64 `gorm:"column:market_id;index"`
	StagingMeta
}

// SourceOutcome 数据源上报的单条赔率，三个外键全部解析后才参与聚合
type SourceOutcome struct {
	ID               uint64       `gorm:"column:id;primaryKey;autoIncrement"`
	Source           string       `gorm:"column:source;type:varchar(64);not null;uniqueIndex:uq_source_outcomes_key"`
	ExternalID       string       `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uq_source_outcomes_key"`
	ExternalMarketID string       `gorm:"column:external_market_id;type:varchar(128);not null;uniqueIndex:uq_source_outcomes_key"`
	ExternalEventID  string       `gorm:"column:external_event_id;type:varchar(128);not null;uniqueIndex:uq_source_outcomes_key;index"`
	Name             string       `gorm:"column:name;type:varchar(256);not null"`
	Value            int64        `gorm:"column:value;not null"`
	State            OutcomeState `gorm:"column:state;type:smallint;not null"`
	OutcomeID        *uint64      `gorm:"column:outcome_id"`
	MarketID         *uint64      `gorm:"column:market_id"`
	EventID          *uint64      `gorm:"column:event_id;index"`
	StagingMeta
}

// Resolved 三个外键是否都已解析
func (so *SourceOutcome) Resolved() bool {
	return so.OutcomeID != nil && so.MarketID != nil && so.EventID != nil
}

// GameKey 仅在 Resolved() 为 true 时有意义
func (so *SourceOutcome) GameKey() GameKey {
	return GameKey{EventID: *so.EventID, MarketID: *so.MarketID, OutcomeID: *so.OutcomeID}
}

func (SourceGroup) TableName() string         { return "source_groups" }
func (SourceCategory) TableName() string      { return "source_categories" }
func (SourceManifestation) TableName() string { return "source_manifestations" }
func (SourceEvent) TableName() string         { return "source_events" }
func (SourceParticipant) TableName() string   { return "source_participants" }
func (SourceMarket) TableName() string        { return "source_markets" }
func (SourceOutcome) TableName() string       { return "source_outcomes" }

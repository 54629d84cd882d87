package model

import (
	"time"
)

// 统一（canonical）实体：多数据源去重后的唯一记录，只创建、不删除。
// NameKey 为规范化名称，带唯一索引的表按它判定同名实体。

type Group struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey   string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_groups_name_key;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

type Category struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey   string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_categories_name_key;not null"`
	GroupID   *uint64   `gorm:"column:group_id;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

type Manifestation struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey    string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_manifestations_name_key;not null"`
	CategoryID *uint64   `gorm:"column:category_id;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Event 赛事。不按名称跨源去重，NameKey 仅作查询用
type Event struct {
	ID              uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name            string     `gorm:"column:name;type:varchar(256);not null"`
	NameKey         string     `gorm:"column:name_key;type:varchar(256);index;not null"`
	StartTime       time.Time  `gorm:"column:start_time;type:timestamp;index;not null"`
	ManifestationID *uint64    `gorm:"column:manifestation_id;index"`
	State           EventState `gorm:"column:state;type:smallint;not null"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Participant 参赛方全局池，不区分数据源与赛事
type Participant struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey   string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_participants_name_key;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

type EventParticipant struct {
	ID            uint64   `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       uint64   `gorm:"column:event_id;not null;uniqueIndex:uq_event_participant"`
	ParticipantID uint64   `gorm:"column:participant_id;not null;uniqueIndex:uq_event_participant"`
	Role          TeamRole `gorm:"column:role;type:varchar(8);not null"`
}

type Market struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey   string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_markets_name_key;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Outcome 结果标签（如 "Home"、"Over 2.5"），跨盘口共用
type Outcome struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(256);not null"`
	NameKey   string    `gorm:"column:name_key;type:varchar(256);uniqueIndex:uq_outcomes_name_key;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// EventOutcome 即 "game"：某赛事某盘口某结果的共识赔率，Value 为各数据源均值，只由聚合器写入
type EventOutcome struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	EventID   uint64    `gorm:"column:event_id;not null;uniqueIndex:uq_event_outcome"`
	MarketID  uint64    `gorm:"column:market_id;not null;uniqueIndex:uq_event_outcome"`
	OutcomeID uint64    `gorm:"column:outcome_id;not null;uniqueIndex:uq_event_outcome"`
	Value     int64     `gorm:"column:value;not null"`
	State     GameState `gorm:"column:state;type:smallint;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// GameKey event_outcomes 的业务唯一键
type GameKey struct {
	EventID   uint64
	MarketID  uint64
	OutcomeID uint64
}

func (eo *EventOutcome) Key() GameKey {
	return GameKey{EventID: eo.EventID, MarketID: eo.MarketID, OutcomeID: eo.OutcomeID}
}

func (Group) TableName() string            { return "groups" }
func (Category) TableName() string         { return "categories" }
func (Manifestation) TableName() string    { return "manifestations" }
func (Event) TableName() string            { return "events" }
func (Participant) TableName() string      { return "participants" }
func (EventParticipant) TableName() string { return "event_participants" }
func (Market) TableName() string           { return "markets" }
func (Outcome) TableName() string          { return "outcomes" }
func (EventOutcome) TableName() string     { return "event_outcomes" }

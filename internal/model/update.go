package model

import (
	"time"

	"gorm.io/datatypes"
)

// UpdateType 下游通知的实体类型
type UpdateType string

const (
	UpdateGroup         UpdateType = "group"
	UpdateCategory      UpdateType = "category"
	UpdateManifestation UpdateType = "manifestation"
	UpdateEvent         UpdateType = "event"
	UpdateMarket        UpdateType = "market"
	UpdateGame          UpdateType = "game"
)

// UpdateTypeOrder 投递顺序，与层级一致
var UpdateTypeOrder = []UpdateType{
	UpdateGroup, UpdateCategory, UpdateManifestation, UpdateEvent, UpdateMarket, UpdateGame,
}

type UpdateState string

const (
	UpdateCreated UpdateState = "created"
	UpdateUpdated UpdateState = "updated"
	UpdateRemoved UpdateState = "removed"
)

// Update 一次 sweep 中产生的单条变更记录
type Update struct {
	Type  UpdateType  `json:"type"`
	State UpdateState `json:"state"`
	Data  any         `json:"data"`
}

type GroupData struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type CategoryData struct {
	ID      uint64  `json:"id"`
	Name    string  `json:"name"`
	GroupID *uint64 `json:"groupId,omitempty"`
}

type ManifestationData struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name"`
	CategoryID *uint64 `json:"categoryId,omitempty"`
}

// EventData 赛事通知，创建时带完整层级名称与主客队
type EventData struct {
	ID                uint64     `json:"id"`
	State             EventState `json:"state"`
	Name              string     `json:"name,omitempty"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	GroupName         string     `json:"groupName,omitempty"`
	CategoryName      string     `json:"categoryName,omitempty"`
	ManifestationName string     `json:"manifestationName,omitempty"`
	HomeTeam          string     `json:"homeTeam,omitempty"`
	AwayTeam          string     `json:"awayTeam,omitempty"`
}

type MarketData struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type GameData struct {
	EventID   uint64    `json:"eventId"`
	MarketID  uint64    `json:"marketId"`
	OutcomeID uint64    `json:"outcomeId"`
	Name      string    `json:"name,omitempty"`
	Value     int64     `json:"value"`
	State     GameState `json:"state"`
}

// UpdateBatch 按类型聚合后的一条下游消息
type UpdateBatch struct {
	Type      UpdateType `json:"type"`
	Data      []Update   `json:"data"`
	Timestamp string     `json:"timestamp"`
}

// UpdateOutbox sweep 结束时落库的待投递批次，投递成功后写 DeliveredAt
type UpdateOutbox struct {
	ID          uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID     string         `gorm:"column:batch_id;type:varchar(36);uniqueIndex;not null"`
	Type        UpdateType     `gorm:"column:type;type:varchar(32);not null"`
	Payload     datatypes.JSON `gorm:"column:payload;not null"`
	Attempts    int            `gorm:"column:attempts;not null;default:0"`
	LastError   string         `gorm:"column:last_error;type:text"`
	DeliveredAt *time.Time     `gorm:"column:delivered_at;index"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (UpdateOutbox) TableName() string { return "update_outbox" }

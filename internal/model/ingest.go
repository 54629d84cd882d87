package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType 上游消息类型
type MessageType string

const (
	MessageGroups         MessageType = "groups"
	MessageCategories     MessageType = "categories"
	MessageManifestations MessageType = "manifestations"
	MessageEvents         MessageType = "events"
	MessageMarkets        MessageType = "markets"
	MessageGames          MessageType = "games"
)

// Envelope 上游队列消息：{source, type, data}
type Envelope struct {
	Source string          `json:"source"`
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// ExternalID 数据源自身的 id，上游可能以数字或字符串下发，统一按字符串保存
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("external id: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) String() string { return string(id) }

// NamedItem 通用 {id, name}
type NamedItem struct {
	ID   ExternalID `json:"id"`
	Name string     `json:"name"`
}

type CategoriesPayload struct {
	GroupID ExternalID  `json:"groupId"`
	Cates   []NamedItem `json:"cates"`
}

type ManifestationsPayload struct {
	GroupID ExternalID  `json:"groupId"`
	CateID  ExternalID  `json:"cateId"`
	Manis   []NamedItem `json:"manis"`
}

type EventItem struct {
	ID         ExternalID `json:"id"`
	Name       string     `json:"name"`
	Date       time.Time  `json:"date"`
	HomeTeam   string     `json:"homeTeam"`
	HomeTeamID ExternalID `json:"homeTeamId"`
	AwayTeam   string     `json:"awayTeam"`
	AwayTeamID ExternalID `json:"awayTeamId"`
}

type EventsPayload struct {
	ManiID ExternalID  `json:"maniId"`
	Events []EventItem `json:"events"`
}

type MarketsPayload struct {
	GroupID ExternalID  `json:"groupId"`
	Classes []NamedItem `json:"classes"`
}

// GameItem 单条赔率上报，Odd 为整数化赔率
type GameItem struct {
	OutcomeID   ExternalID `json:"outcomeId"`
	OutcomeName string     `json:"outcomeName"`
	MarketID    ExternalID `json:"marketId"`
	EventID     ExternalID `json:"eventId"`
	Odd         int64      `json:"odd"`
	Enabled     bool       `json:"enabled"`
}

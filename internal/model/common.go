package model

// EntityKind 实体层级类型（staging 与 canonical 一一对应）
type EntityKind string

const (
	KindGroup         EntityKind = "group"
	KindCategory      EntityKind = "category"
	KindManifestation EntityKind = "manifestation"
	KindEvent         EntityKind = "event"
	KindParticipant   EntityKind = "participant"
	KindMarket        EntityKind = "market"
	KindOutcome       EntityKind = "outcome"
)

// EventState 赛事状态
type EventState int16

const (
	EventActive   EventState = 1
	EventDisabled EventState = 2
)

// GameState 赛事赔率（event_outcomes）状态
type GameState int16

const (
	GameActive   GameState = 1
	GameDisabled GameState = 2
	GameRemoved  GameState = 3 // 已无任何数据源报告
)

// OutcomeState 数据源上报的单条赔率状态
type OutcomeState int16

const (
	OutcomeActive   OutcomeState = 1
	OutcomeDisabled OutcomeState = 2
)

// TeamRole 参赛方角色
type TeamRole string

const (
	RoleHome TeamRole = "home"
	RoleAway TeamRole = "away"
)

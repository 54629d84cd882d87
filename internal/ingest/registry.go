package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
)

var (
	// ErrUnknownMessageType 没有为该消息类型注册处理器
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrInvalidPayload 消息体无法解析或缺少必填字段
	ErrInvalidPayload = errors.New("invalid payload")
)

// Handler 单一消息类型的处理器：解析 data 并写入 staging
type Handler func(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error

// Registry 消息类型→处理器
type Registry struct {
	handlers map[model.MessageType]Handler
	logger   *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{handlers: make(map[model.MessageType]Handler), logger: logger}
}

// NewDefaultRegistry 注册全部上游消息类型
func NewDefaultRegistry(logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(model.MessageGroups, handleGroups)
	r.Register(model.MessageCategories, handleCategories)
	r.Register(model.MessageManifestations, handleManifestations)
	r.Register(model.MessageEvents, handleEvents)
	r.Register(model.MessageMarkets, handleMarkets)
	r.Register(model.MessageGames, handleGames)
	return r
}

// Register 注册处理器，重复注册时覆盖原有实现
func (r *Registry) Register(t model.MessageType, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("消息类型%s的处理器不能为nil", t))
	}
	if _, exists := r.handlers[t]; exists {
		r.logger.Warnf("消息类型%s的处理器已注册，将覆盖原有实现", t)
	}
	r.handlers[t] = h
}

// Types 已注册的消息类型（排序）
func (r *Registry) Types() []model.MessageType {
	types := make([]model.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch 按消息类型分发
func (r *Registry) Dispatch(ctx context.Context, env *model.Envelope, w interfaces.StagingWriter) error {
	if env.Source == "" {
		return fmt.Errorf("%w: 缺少 source", ErrInvalidPayload)
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	return h(ctx, env.Source, env.Data, w)
}

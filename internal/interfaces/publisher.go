package interfaces

import "context"

// UpdatePublisher 下游通知投递，实现须保证返回 nil 时消息已被队列接收
type UpdatePublisher interface {
	Name() string
	// Publish 投递一条已序列化的批次，msgType 为批次的实体类型
	Publish(ctx context.Context, msgType string, payload []byte) error
}

package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/config"
	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
)

// EnvelopeField stream 条目中保存原始消息 JSON 的字段名
const EnvelopeField = "envelope"

// Consumer 以消费组读取上游 stream，跳过与上一条同范围快照内容相同的消息后写入 staging。
// 处理失败的消息不 ack，留在 pending 列表中按原顺序重试
type Consumer struct {
	client   *redis.Client
	cfg      config.RedisConfig
	registry *Registry
	writer   interfaces.StagingWriter
	logger   *logrus.Logger
}

func NewConsumer(client *redis.Client, cfg config.RedisConfig, registry *Registry, writer interfaces.StagingWriter, logger *logrus.Logger) *Consumer {
	return &Consumer{client: client, cfg: cfg, registry: registry, writer: writer, logger: logger}
}

// Run 消费直到 ctx 取消。启动时先重放本消费者的 pending 消息
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	log := c.logger.WithFields(logrus.Fields{
		"stream":   c.cfg.IngestStream,
		"group":    c.cfg.IngestGroup,
		"consumer": c.cfg.IngestConsumer,
	})
	log.WithField("types", c.registry.Types()).Info("上游消费者启动")

	pending := true
	for {
		if ctx.Err() != nil {
			log.Info("上游消费者退出")
			return nil
		}
		msgs, err := c.read(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("读取上游 stream 失败")
			c.backoff(ctx)
			continue
		}
		if pending && len(msgs) == 0 {
			pending = false
			continue
		}
		if err := c.processBatch(ctx, msgs); err != nil {
			log.WithError(err).Warn("消息处理失败，稍后从 pending 重试")
			pending = true
			c.backoff(ctx)
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.IngestStream, c.cfg.IngestGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费组 %s/%s 失败: %w", c.cfg.IngestStream, c.cfg.IngestGroup, err)
	}
	return nil
}

// read pending 为 true 时读取已投递未 ack 的消息（不阻塞），否则阻塞等待新消息
func (c *Consumer) read(ctx context.Context, pending bool) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.IngestGroup,
		Consumer: c.cfg.IngestConsumer,
		Streams:  []string{c.cfg.IngestStream, ">"},
		Count:    c.cfg.ReadCount,
		Block:    c.cfg.BlockTimeout,
	}
	if pending {
		args.Streams[1] = "0"
		args.Block = -1
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// processBatch 顺序处理，遇到可重试的失败即停止，保证同一数据源的消息不乱序
func (c *Consumer) processBatch(ctx context.Context, msgs []redis.XMessage) error {
	for _, msg := range msgs {
		if err := c.handle(ctx, msg); err != nil {
			return fmt.Errorf("消息 %s: %w", msg.ID, err)
		}
	}
	return nil
}

// handle 处理单条消息；返回 nil 表示已 ack。
// 去重只跳过与同一 (source, type, 上级 id) 最近一次成功处理的内容完全相同的消息，
// 数据回到之前的状态时仍会写入
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	log := c.logger.WithField("message_id", msg.ID)

	raw, ok := msg.Values[EnvelopeField].(string)
	if !ok {
		log.Warn("消息缺少 envelope 字段，丢弃")
		return c.ack(ctx, msg.ID)
	}

	var env model.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.WithError(err).Warn("消息解析失败，丢弃")
		return c.ack(ctx, msg.ID)
	}
	log = log.WithFields(logrus.Fields{"source": env.Source, "type": env.Type})

	sum := sha256.Sum256([]byte(raw))
	hash := hex.EncodeToString(sum[:])
	key := c.dedupKey(&env)
	last, err := c.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("查询去重键失败: %w", err)
	}
	if last == hash {
		log.Debug("与上一条消息相同，跳过")
		return c.ack(ctx, msg.ID)
	}

	if err := c.registry.Dispatch(ctx, &env, c.writer); err != nil {
		if errors.Is(err, ErrUnknownMessageType) || errors.Is(err, ErrInvalidPayload) {
			log.WithError(err).Warn("无法处理的消息，丢弃")
			return c.ack(ctx, msg.ID)
		}
		return err
	}

	if err := c.client.Set(ctx, key, hash, c.cfg.DedupTTL).Err(); err != nil {
		log.WithError(err).Warn("写入去重键失败")
	}
	log.Debug("消息已写入 staging")
	return c.ack(ctx, msg.ID)
}

// scopeFields 快照的上级 id；数组形式的 data（groups、games）没有上级
type scopeFields struct {
	GroupID json.RawMessage `json:"groupId"`
	CateID  json.RawMessage `json:"cateId"`
	ManiID  json.RawMessage `json:"maniId"`
}

// dedupKey 同一数据源对同一上级的快照共用一个键，值为最近一次处理的内容哈希
func (c *Consumer) dedupKey(env *model.Envelope) string {
	parts := []string{env.Source, string(env.Type)}
	var scope scopeFields
	if data := bytes.TrimSpace(env.Data); len(data) > 0 && data[0] == '{' && json.Unmarshal(data, &scope) == nil {
		parts = append(parts, string(scope.GroupID), string(scope.CateID), string(scope.ManiID))
	}
	return c.cfg.DedupPrefix + strings.Join(parts, ":")
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.cfg.IngestStream, c.cfg.IngestGroup, id).Err(); err != nil {
		return fmt.Errorf("XACK %s: %w", id, err)
	}
	return nil
}

func (c *Consumer) backoff(ctx context.Context) {
	d := c.cfg.BlockTimeout
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

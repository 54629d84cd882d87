package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotRouted 交换机接受了消息但没有任何队列绑定
var ErrNotRouted = errors.New("rabbitmq: message not routed")

// RabbitHTTPPublisher 通过 RabbitMQ 管理端 HTTP 接口
// (POST /api/exchanges/{vhost}/{exchange}/publish) 投递
type RabbitHTTPPublisher struct {
	client     *http.Client
	publishURI string
	routingKey string
	user       string
	pass       string
	logger     *logrus.Logger
}

func NewRabbitHTTPPublisher(client *http.Client, publishURI, routingKey, user, pass string, logger *logrus.Logger) *RabbitHTTPPublisher {
	return &RabbitHTTPPublisher{
		client:     client,
		publishURI: publishURI,
		routingKey: routingKey,
		user:       user,
		pass:       pass,
		logger:     logger,
	}
}

func (p *RabbitHTTPPublisher) Name() string { return "rabbitmq:" + p.routingKey }

type publishProperties struct {
	Headers map[string]string `json:"headers"`
}

type publishRequest struct {
	Properties      publishProperties `json:"properties"`
	RoutingKey      string            `json:"routing_key"`
	Payload         string            `json:"payload"`
	PayloadEncoding string            `json:"payload_encoding"`
}

type publishResponse struct {
	Routed bool   `json:"routed"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (p *RabbitHTTPPublisher) Publish(ctx context.Context, msgType string, payload []byte) error {
	body, err := json.Marshal(publishRequest{
		Properties: publishProperties{Headers: map[string]string{
			"MessageType":    msgType,
			"correlation_id": uuid.NewString(),
		}},
		RoutingKey:      p.routingKey,
		Payload:         string(payload),
		PayloadEncoding: "string",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.publishURI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.SetBasicAuth(p.user, p.pass)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取 rabbitmq 响应失败: %w", err)
	}
	var res publishResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("解析 rabbitmq 响应失败: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		p.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"error":  res.Error,
			"reason": res.Reason,
		}).Warn("RabbitMQ publish API 错误")
		return fmt.Errorf("rabbitmq publish: HTTP %d: %s %s", resp.StatusCode, res.Error, res.Reason)
	}
	if res.Error != "" {
		return fmt.Errorf("rabbitmq publish: %s: %s", res.Error, res.Reason)
	}
	if !res.Routed {
		return ErrNotRouted
	}
	return nil
}

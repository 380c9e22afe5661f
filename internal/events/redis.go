package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "AgentStudio/internal/errors"
)

// RedisConfig 描述 Redis 发布通道的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisSink 通过 PUBLISH 将事件推送给订阅者，例如仪表盘的实时进度面板。
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink 创建 Redis 发布实例。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "agentstudio:uploads"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisSinkFromClient(client, channel), nil
}

// NewRedisSinkFromClient 复用已有的 Redis 客户端。
func NewRedisSinkFromClient(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Publish 实现 Sink 接口。
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "编码事件失败")
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)

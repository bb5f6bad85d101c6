package events

import (
	"context"
	"fmt"
)

// DefaultChannel 是 Redis 发布事件的默认频道。
const DefaultChannel = "goal_agent.events"

// ChannelPublisher 是向频道发布原始消息的能力，由 Redis 客户端实现。
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Redis 通过 PUBLISH 投递事件。
type Redis struct {
	client  ChannelPublisher
	channel string
	closer  func() error
}

// NewRedis 创建 Redis 发布器。closer 可为空，用于在 Close 时释放连接。
func NewRedis(client ChannelPublisher, channel string, closer func() error) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel, closer: closer}
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload)
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

var _ Publisher = (*Redis)(nil)

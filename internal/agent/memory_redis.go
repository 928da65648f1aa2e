package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"agent-team-go/internal/constants"
)

// RedisChatMemory 用 Redis List 保存会话历史
type RedisChatMemory struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisChatMemory ttl 为0时不过期
func NewRedisChatMemory(client redis.Cmdable, ttl time.Duration) (*RedisChatMemory, error) {
	if client == nil {
		return nil, errors.New("redis 客户端不能为空")
	}
	return &RedisChatMemory{client: client, ttl: ttl}, nil
}

func (r *RedisChatMemory) key(sessionID string) string {
	return fmt.Sprintf(constants.KeySessionHistory, sessionID)
}

func (r *RedisChatMemory) GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	raw, err := r.client.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return []*schema.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话 %s 的历史失败: %w", sessionID, err)
	}

	messages := make([]*schema.Message, 0, len(raw))
	for _, item := range raw {
		var msg schema.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("会话 %s 的历史数据损坏: %w", sessionID, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

func (r *RedisChatMemory) AddMessages(ctx context.Context, sessionID string, messages []*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("会话 %s 不能写入空消息", sessionID)
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("序列化会话 %s 的消息失败: %w", sessionID, err)
		}
		values = append(values, data)
	}

	key := r.key(sessionID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话 %s 的历史失败: %w", sessionID, err)
	}
	return nil
}

func (r *RedisChatMemory) Trim(ctx context.Context, sessionID string, keep int) error {
	if keep <= 0 {
		return r.ClearHistory(ctx, sessionID)
	}
	if err := r.client.LTrim(ctx, r.key(sessionID), int64(-keep), -1).Err(); err != nil {
		return fmt.Errorf("裁剪会话 %s 的历史失败: %w", sessionID, err)
	}
	return nil
}

func (r *RedisChatMemory) ClearHistory(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("清除会话 %s 的历史失败: %w", sessionID, err)
	}
	return nil
}

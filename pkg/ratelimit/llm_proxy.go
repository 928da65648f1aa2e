package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"agent-team-go/internal/logger"
)

// DefaultQPM 未配置限额时使用
const DefaultQPM = 30

// RateLimitedModel 给任意工具调用模型套上令牌桶和退避重试
type RateLimitedModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
	name   string
}

// NewRateLimitedModel 按模型 QPM 的 90% 限流，给服务端留余量
func NewRateLimitedModel(inner model.ToolCallingChatModel, name string, qpm int, retryWait time.Duration, maxRetries int) *RateLimitedModel {
	if qpm <= 0 {
		qpm = DefaultQPM
	}
	effective := int(float64(qpm) * 0.9)
	if effective < 1 {
		effective = 1
	}
	if retryWait <= 0 {
		retryWait = time.Second
	}

	log := logger.Component("ratelimit")
	log.Info().
		Str("model", name).
		Int("qpm", qpm).
		Int("effective_qpm", effective).
		Int("max_retries", maxRetries).
		Msg("模型限流已启用")

	return &RateLimitedModel{
		inner:  inner,
		bucket: NewTokenBucket(effective, 0).WithRetryPolicy(retryWait, maxRetries),
		name:   name,
	}
}

// Generate 实现 model.BaseChatModel
func (m *RateLimitedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.bucket.RetryWithBackoff(ctx, func() error {
		var err error
		out, err = m.inner.Generate(ctx, input, opts...)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("model", m.name).Msg("模型调用失败")
		}
		return err
	})
	return out, err
}

// Stream 只对建立流的过程限流，流中的错误不重试
func (m *RateLimitedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.bucket.RetryWithBackoff(ctx, func() error {
		var err error
		out, err = m.inner.Stream(ctx, input, opts...)
		return err
	})
	return out, err
}

// WithTools 绑定工具后共享同一个令牌桶
func (m *RateLimitedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedModel{inner: inner, bucket: m.bucket, name: m.name}, nil
}

var _ model.ToolCallingChatModel = (*RateLimitedModel)(nil)

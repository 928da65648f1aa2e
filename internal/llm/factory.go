package llm

import (
	"time"

	"github.com/cloudwego/eino/components/model"

	"agent-team-go/internal/config"
	"agent-team-go/pkg/ratelimit"
)

// NewFromConfig 按配置创建带限流的默认模型
func NewFromConfig(cfg *config.Config) (model.ToolCallingChatModel, error) {
	base, err := NewChatModel(Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return ratelimit.NewRateLimitedModel(base, cfg.LLM.Model, cfg.QPMForModel(cfg.LLM.Model), time.Second, cfg.LLM.MaxRetries), nil
}

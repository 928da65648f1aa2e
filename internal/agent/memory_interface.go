package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// ChatMemory 会话历史存储。每次运行记录为一条用户消息和一条助手消息
type ChatMemory interface {
	// GetHistory 会话不存在时返回空切片
	GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error)

	AddMessages(ctx context.Context, sessionID string, messages []*schema.Message) error

	// Trim 只保留最近 keep 条消息
	Trim(ctx context.Context, sessionID string, keep int) error

	ClearHistory(ctx context.Context, sessionID string) error
}

// RecordRun 把一次运行的目标和最终输出写入会话，并裁剪到 keepRuns 次
func RecordRun(ctx context.Context, memory ChatMemory, sessionID, goal, output string, keepRuns int) error {
	if memory == nil || sessionID == "" {
		return nil
	}
	msgs := []*schema.Message{schema.UserMessage(goal), schema.AssistantMessage(output, nil)}
	if err := memory.AddMessages(ctx, sessionID, msgs); err != nil {
		return err
	}
	if keepRuns > 0 {
		return memory.Trim(ctx, sessionID, keepRuns*2)
	}
	return nil
}

// RecentRuns 返回最近 runs 次运行的消息
func RecentRuns(ctx context.Context, memory ChatMemory, sessionID string, runs int) ([]*schema.Message, error) {
	if memory == nil || sessionID == "" || runs <= 0 {
		return nil, nil
	}
	history, err := memory.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if keep := runs * 2; len(history) > keep {
		history = history[len(history)-keep:]
	}
	return history, nil
}

// InMemoryChatMemory 进程内实现，用于测试和命令行
type InMemoryChatMemory struct {
	mu        sync.RWMutex
	histories map[string][]*schema.Message
}

func NewInMemoryChatMemory() *InMemoryChatMemory {
	return &InMemoryChatMemory{histories: make(map[string][]*schema.Message)}
}

func (m *InMemoryChatMemory) GetHistory(_ context.Context, sessionID string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.histories[sessionID]
	cpy := make([]*schema.Message, len(history))
	copy(cpy, history)
	return cpy, nil
}

func (m *InMemoryChatMemory) AddMessages(_ context.Context, sessionID string, messages []*schema.Message) error {
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("会话 %s 不能写入空消息", sessionID)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[sessionID] = append(m.histories[sessionID], messages...)
	return nil
}

func (m *InMemoryChatMemory) Trim(_ context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.histories[sessionID]
	if keep >= 0 && len(history) > keep {
		m.histories[sessionID] = append([]*schema.Message(nil), history[len(history)-keep:]...)
	}
	return nil
}

func (m *InMemoryChatMemory) ClearHistory(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, sessionID)
	return nil
}

package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrNoMoreResponses 脚本回复已用完
var ErrNoMoreResponses = errors.New("mock 模型没有更多预设回复")

// MockReply 单次预设回复
type MockReply struct {
	Content   string
	ToolCalls []schema.ToolCall
	Err       error
}

// MockChatModel 按顺序返回预设回复的测试模型，并记录每次收到的消息
type MockChatModel struct {
	mu       sync.Mutex
	replies  []MockReply
	next     int
	calls    [][]*schema.Message
	options  []*model.Options
	Respond  func(ctx context.Context, messages []*schema.Message) (string, error)
	tools    []*schema.ToolInfo
	parent   *MockChatModel
	fallback *MockReply
}

// NewMockChatModel 以文本列表创建 mock 模型
func NewMockChatModel(contents ...string) *MockChatModel {
	m := &MockChatModel{}
	for _, c := range contents {
		m.replies = append(m.replies, MockReply{Content: c})
	}
	return m
}

// Add 追加预设回复
func (m *MockChatModel) Add(replies ...MockReply) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
	return m
}

// Repeat 预设回复用完后一直返回该回复
func (m *MockChatModel) Repeat(reply MockReply) *MockChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &reply
	return m
}

func (m *MockChatModel) root() *MockChatModel {
	if m.parent != nil {
		return m.parent
	}
	return m
}

// Generate 实现 model.BaseChatModel
func (m *MockChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	r := m.root()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	copied := make([]*schema.Message, len(messages))
	copy(copied, messages)
	r.calls = append(r.calls, copied)
	r.options = append(r.options, model.GetCommonOptions(&model.Options{}, opts...))
	respond := r.Respond
	var reply MockReply
	switch {
	case respond != nil:
	case r.next < len(r.replies):
		reply = r.replies[r.next]
		r.next++
	case r.fallback != nil:
		reply = *r.fallback
	default:
		r.mu.Unlock()
		return nil, ErrNoMoreResponses
	}
	r.mu.Unlock()

	if respond != nil {
		content, err := respond(ctx, copied)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(content, nil), nil
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return schema.AssistantMessage(reply.Content, reply.ToolCalls), nil
}

// Stream 把完整回复作为单个分片返回
func (m *MockChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 记录绑定的工具，回复序列与原实例共享
func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &MockChatModel{parent: m.root(), tools: tools}, nil
}

// Tools 返回绑定的工具
func (m *MockChatModel) Tools() []*schema.ToolInfo {
	return m.tools
}

// Calls 返回所有调用收到的消息
func (m *MockChatModel) Calls() [][]*schema.Message {
	r := m.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]*schema.Message, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount 调用次数
func (m *MockChatModel) CallCount() int {
	r := m.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// LastOptions 最近一次调用的公共选项
func (m *MockChatModel) LastOptions() *model.Options {
	r := m.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.options) == 0 {
		return nil
	}
	return r.options[len(r.options)-1]
}

var _ model.ToolCallingChatModel = (*MockChatModel)(nil)

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/tracing"
)

const defaultMaxToolSteps = 4

var agentTracer = otel.Tracer("agent-team-go/agent")

// ErrNoContent 模型既没有返回文本也没有工具调用
var ErrNoContent = errors.New("模型返回内容为空")

// Profile 智能体的角色设定
type Profile struct {
	Name         string
	Role         string
	Instructions []string
	Model        string // 为空时使用默认模型
}

// SystemPrompt 由角色和指令拼出系统提示词
func (p Profile) SystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是「%s」。", p.Name)
	if p.Role != "" {
		sb.WriteString(p.Role)
	}
	sb.WriteString("\n")
	for _, line := range p.Instructions {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ChatInvoker 用聊天模型实现 pipeline.Invoker
type ChatInvoker struct {
	profile      Profile
	chat         model.ToolCallingChatModel
	providers    []ContextProvider
	tools        map[string]tool.InvokableTool
	contract     []string
	timeout      time.Duration
	maxToolSteps int
}

// Option 配置 ChatInvoker
type Option func(*ChatInvoker)

// WithProviders 追加上下文提供者
func WithProviders(providers ...ContextProvider) Option {
	return func(a *ChatInvoker) { a.providers = append(a.providers, providers...) }
}

// WithTools 允许模型在回答前调用工具
func WithTools(tools ...tool.InvokableTool) Option {
	return func(a *ChatInvoker) {
		for _, t := range tools {
			info, err := t.Info(context.Background())
			if err != nil || info == nil {
				logger.Warn().Err(err).Str("agent", a.profile.Name).Msg("获取工具信息失败，已忽略该工具")
				continue
			}
			a.tools[info.Name] = t
		}
	}
}

// WithContract 加强指令中要列出的产物名
func WithContract(names ...string) Option {
	return func(a *ChatInvoker) { a.contract = append([]string(nil), names...) }
}

// WithTimeout 单次调用超时
func WithTimeout(d time.Duration) Option {
	return func(a *ChatInvoker) { a.timeout = d }
}

// WithMaxToolSteps 工具调用的最大轮数
func WithMaxToolSteps(n int) Option {
	return func(a *ChatInvoker) {
		if n > 0 {
			a.maxToolSteps = n
		}
	}
}

// NewChatInvoker 创建调用器
func NewChatInvoker(profile Profile, chat model.ToolCallingChatModel, opts ...Option) *ChatInvoker {
	a := &ChatInvoker{
		profile:      profile,
		chat:         chat,
		tools:        make(map[string]tool.InvokableTool),
		maxToolSteps: defaultMaxToolSteps,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Profile 返回角色设定
func (a *ChatInvoker) Profile() Profile { return a.profile }

// Invoke 实现 pipeline.Invoker
func (a *ChatInvoker) Invoke(ctx context.Context, rc *pipeline.RunContext, directive pipeline.Directive) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	ctx, span := agentTracer.Start(ctx, "Agent.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.name", a.profile.Name),
		attribute.String("agent.directive", directive.String()),
		attribute.Int("agent.prior_outputs", rc.Len()),
	)

	messages, err := a.buildMessages(ctx, rc, directive)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return "", err
	}
	span.SetAttributes(attribute.String("agent.prompt", tracing.SafePrompt(messages[len(messages)-1].Content)))

	text, err := a.generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}
	span.SetAttributes(attribute.Int("agent.output_length", len(text)))
	return text, nil
}

// generate 调用模型；返回工具调用时执行工具并把结果交回模型
func (a *ChatInvoker) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	log := logger.Ctx(ctx).With().Str("agent", a.profile.Name).Logger()

	chat := a.chat
	if len(a.tools) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(a.tools))
		for _, t := range a.tools {
			info, err := t.Info(ctx)
			if err != nil {
				return "", fmt.Errorf("获取工具信息失败: %w", err)
			}
			infos = append(infos, info)
		}
		bound, err := a.chat.WithTools(infos)
		if err != nil {
			return "", fmt.Errorf("绑定工具失败: %w", err)
		}
		chat = bound
	}

	var opts []model.Option
	if a.profile.Model != "" {
		opts = append(opts, model.WithModel(a.profile.Model))
	}

	for step := 0; ; step++ {
		resp, err := chat.Generate(ctx, messages, opts...)
		if err != nil {
			return "", fmt.Errorf("智能体 %s 调用模型失败: %w", a.profile.Name, err)
		}
		if len(resp.ToolCalls) == 0 || step >= a.maxToolSteps {
			if strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0 {
				return "", ErrNoContent
			}
			return resp.Content, nil
		}

		messages = append(messages, resp)
		for _, call := range resp.ToolCalls {
			observation := a.runTool(ctx, call)
			log.Debug().
				Str("tool", call.Function.Name).
				Int("observation_length", len(observation)).
				Msg("工具调用完成")
			messages = append(messages, schema.ToolMessage(observation, call.ID))
		}
	}
}

// runTool 工具失败时把错误文本作为观察结果返回给模型
func (a *ChatInvoker) runTool(ctx context.Context, call schema.ToolCall) string {
	t, ok := a.tools[call.Function.Name]
	if !ok {
		return fmt.Sprintf("未知工具: %s", call.Function.Name)
	}
	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("tool", call.Function.Name).Msg("工具执行失败")
		return fmt.Sprintf("执行工具 %s 时出错: %v", call.Function.Name, err)
	}
	return out
}

package pipeline

import (
	"context"
	"fmt"

	"agent-team-go/internal/artifact"
)

// DefaultMaxAttempts 带产物约定的阶段默认最多调用次数（首次 + 1次重试）
const DefaultMaxAttempts = 2

// Directive 阶段调用时附带的指令强度，由具体阶段决定如何体现在请求中
type Directive int

const (
	DirectiveNormal Directive = iota // 正常指令
	DirectiveStrict                  // 严格指令：上一次输出未满足约定
)

// String 返回指令的字符串表示
func (d Directive) String() string {
	switch d {
	case DirectiveNormal:
		return "NORMAL"
	case DirectiveStrict:
		return "STRICT"
	default:
		return fmt.Sprintf("Directive(%d)", int(d))
	}
}

// Request 一次流水线运行的输入，创建后只读
type Request struct {
	goal    string
	options map[string]string
}

// NewRequest 创建运行请求，options 会被复制
func NewRequest(goal string, options map[string]string) Request {
	copied := make(map[string]string, len(options))
	for k, v := range options {
		copied[k] = v
	}
	return Request{goal: goal, options: copied}
}

// Goal 返回自由文本目标
func (r Request) Goal() string { return r.goal }

// Option 读取透传配置项
func (r Request) Option(key string) (string, bool) {
	v, ok := r.options[key]
	return v, ok
}

// Options 返回配置项副本
func (r Request) Options() map[string]string {
	copied := make(map[string]string, len(r.options))
	for k, v := range r.options {
		copied[k] = v
	}
	return copied
}

// Invoker 阶段调用能力，通常是一次大模型调用
// 同一阶段可能被调用多次（重试），每次调用应只依赖传入的上下文
type Invoker interface {
	Invoke(ctx context.Context, rc *RunContext, directive Directive) (string, error)
}

// InvokerFunc 函数适配器
type InvokerFunc func(ctx context.Context, rc *RunContext, directive Directive) (string, error)

// Invoke 实现 Invoker
func (f InvokerFunc) Invoke(ctx context.Context, rc *RunContext, directive Directive) (string, error) {
	return f(ctx, rc, directive)
}

// StageSpec 阶段定义，在组装流水线时创建，之后不再修改
type StageSpec struct {
	Name     string
	Invoker  Invoker
	Contract []string // 输出必须包含的产物名称；为空表示不做解析和重试
	// MaxAttempts 含首次调用的最多调用次数，<=0 时使用 DefaultMaxAttempts
	MaxAttempts int
	// ExpectArtifacts 无约定但仍需要结构化输出的阶段，解析为空时直接失败
	ExpectArtifacts bool
}

// HasContract 是否声明了产物约定
func (s StageSpec) HasContract() bool {
	return len(s.Contract) > 0
}

func (s StageSpec) attempts() int {
	if !s.HasContract() {
		return 1
	}
	if s.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.MaxAttempts
}

// StageOutput 某个阶段一次调用的原始输出
type StageOutput struct {
	Stage     string
	Attempt   int
	Text      string
	Artifacts *artifact.Set // 无约定且不要求结构化输出时为 nil
}

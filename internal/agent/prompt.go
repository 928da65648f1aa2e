package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/pipeline"
)

// buildMessages 用户消息依次包含：任务目标、附加参数、之前阶段的输出、上下文提供者的内容、加强指令
func (a *ChatInvoker) buildMessages(ctx context.Context, rc *pipeline.RunContext, directive pipeline.Directive) ([]*schema.Message, error) {
	var sb strings.Builder

	req := rc.Request()
	sb.WriteString("## 任务\n")
	sb.WriteString(strings.TrimSpace(req.Goal()))
	sb.WriteString("\n")

	if opts := req.Options(); len(opts) > 0 {
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n## 参数\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, opts[k])
		}
	}

	for _, out := range rc.Outputs() {
		fmt.Fprintf(&sb, "\n## 阶段 %s 的输出\n%s\n", out.Stage, strings.TrimSpace(out.Text))
	}

	for _, p := range a.providers {
		section, err := p.Provide(ctx, rc)
		if err != nil {
			// 上下文缺失不影响本次调用
			logger.Ctx(ctx).Warn().Err(err).Str("provider", p.Name()).Msg("获取上下文失败")
			continue
		}
		if strings.TrimSpace(section) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n%s\n", p.Name(), strings.TrimSpace(section))
	}

	if directive == pipeline.DirectiveStrict {
		sb.WriteString("\n")
		sb.WriteString(StrictInstruction(a.contract))
	}

	return []*schema.Message{
		schema.SystemMessage(a.profile.SystemPrompt()),
		schema.UserMessage(sb.String()),
	}, nil
}

// StrictInstruction 上一次输出缺少产物时追加的指令
func StrictInstruction(contract []string) string {
	var sb strings.Builder
	sb.WriteString("## 重要\n")
	sb.WriteString("上一次回答没有包含要求的文件。不要询问确认，不要给出摘要，立即输出完整文件内容。\n")
	if len(contract) == 0 {
		sb.WriteString("每个文件都以 `=== FILE: <文件名> ===` 单独一行开头，内容放在 ``` 代码块中。\n")
		return sb.String()
	}
	sb.WriteString("必须逐个输出以下文件，每个文件以标记行开头，内容放在 ``` 代码块中：\n")
	for _, name := range contract {
		fmt.Fprintf(&sb, "=== FILE: %s ===\n", name)
	}
	fmt.Fprintf(&sb, "现在就从 `=== FILE: %s ===` 开始。\n", contract[0])
	return sb.String()
}

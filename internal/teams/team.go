// Package teams 组装三条智能体流水线：候选人筛选、智能体代码生成、技术博客写作
package teams

import (
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/config"
	"agent-team-go/internal/pipeline"
)

const (
	TeamScreening = "candidate_screening"
	TeamBuilder   = "agent_builder"
	TeamTechBlog  = "techblog"
)

// Team 阶段列表及名称；Executor 每次调用都新建执行器
type Team struct {
	Name   string
	Stages []pipeline.StageSpec
}

// Executor 创建执行器，opts 追加在默认名称之后
func (t *Team) Executor(opts ...pipeline.Option) (*pipeline.Executor, error) {
	all := append([]pipeline.Option{pipeline.WithName(t.Name)}, opts...)
	exec, err := pipeline.NewExecutor(t.Stages, all...)
	if err != nil {
		return nil, fmt.Errorf("组装团队 %s 失败: %w", t.Name, err)
	}
	return exec, nil
}

// StageNames 阶段名列表
func (t *Team) StageNames() []string {
	names := make([]string, len(t.Stages))
	for i, s := range t.Stages {
		names[i] = s.Name
	}
	return names
}

// Deps 团队依赖的协作者，不需要的可以为 nil
type Deps struct {
	Chat      model.ToolCallingChatModel
	Config    *config.Config
	Knowledge agent.Searcher
	GitHub    GitHubSearcher
	Memory    agent.ChatMemory
}

func (d Deps) config() *config.Config {
	if d.Config == nil {
		return config.Default()
	}
	return d.Config
}

// llmStage 由角色设定创建一个模型阶段，模型、超时和调用次数取自配置
func llmStage(d Deps, stage string, profile agent.Profile, contract []string, opts ...agent.Option) pipeline.StageSpec {
	cfg := d.config()
	if profile.Model == "" {
		profile.Model = cfg.GetModelForTask(stage)
	}
	timeout := config.GetDuration(cfg.Pipeline.StageTimeout, 3*time.Minute)

	base := []agent.Option{agent.WithTimeout(timeout)}
	if len(contract) > 0 {
		base = append(base, agent.WithContract(contract...))
	}
	return pipeline.StageSpec{
		Name:        stage,
		Invoker:     agent.NewChatInvoker(profile, d.Chat, append(base, opts...)...),
		Contract:    contract,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	}
}

// fileFormat 要求模型按文件标记输出的说明
func fileFormat(names ...string) []string {
	lines := []string{"", "输出格式要求：每个文件以单独一行的文件标记开头，内容放在代码块中，例如："}
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("=== FILE: %s ===", n), "```", "...", "```")
	}
	return lines
}

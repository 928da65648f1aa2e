package agent

import (
	"context"
	"fmt"
	"strings"

	"agent-team-go/internal/knowledge"
	"agent-team-go/internal/pipeline"
)

// ContextProvider 为智能体补充提示词上下文，返回的文本会作为单独一节附加
type ContextProvider interface {
	Name() string
	Provide(ctx context.Context, rc *pipeline.RunContext) (string, error)
}

// QueryFunc 从运行上下文构造检索词
type QueryFunc func(rc *pipeline.RunContext) string

// GoalQuery 直接用任务目标检索
func GoalQuery(rc *pipeline.RunContext) string {
	return rc.Request().Goal()
}

// StageQuery 用任务目标加上某阶段的输出检索
func StageQuery(stage string) QueryFunc {
	return func(rc *pipeline.RunContext) string {
		q := rc.Request().Goal()
		if text := rc.Text(stage); text != "" {
			q += "\n" + text
		}
		return q
	}
}

// Searcher 知识库检索
type Searcher interface {
	Search(ctx context.Context, query string) ([]knowledge.Passage, error)
}

// KnowledgeProvider 检索知识库中的相关片段
type KnowledgeProvider struct {
	searcher Searcher
	query    QueryFunc
	limit    int
}

// NewKnowledgeProvider limit<=0 时不截断
func NewKnowledgeProvider(searcher Searcher, query QueryFunc, limit int) *KnowledgeProvider {
	if query == nil {
		query = GoalQuery
	}
	return &KnowledgeProvider{searcher: searcher, query: query, limit: limit}
}

func (p *KnowledgeProvider) Name() string { return "参考文档" }

func (p *KnowledgeProvider) Provide(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	passages, err := p.searcher.Search(ctx, p.query(rc))
	if err != nil {
		return "", fmt.Errorf("检索知识库失败: %w", err)
	}
	if p.limit > 0 && len(passages) > p.limit {
		passages = passages[:p.limit]
	}

	var sb strings.Builder
	for i, passage := range passages {
		fmt.Fprintf(&sb, "[%d] (相关度 %.2f", i+1, passage.RelevanceScore)
		if passage.Source != "" {
			fmt.Fprintf(&sb, ", 来源 %s", passage.Source)
		}
		sb.WriteString(")\n")
		sb.WriteString(strings.TrimSpace(passage.Text))
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// RepositorySearcher GitHub 仓库检索
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query, language string) (string, error)
}

// GitHubProvider 预先检索相关仓库
type GitHubProvider struct {
	searcher RepositorySearcher
	query    QueryFunc
	language string
}

// NewGitHubProvider language 可为空
func NewGitHubProvider(searcher RepositorySearcher, query QueryFunc, language string) *GitHubProvider {
	if query == nil {
		query = GoalQuery
	}
	return &GitHubProvider{searcher: searcher, query: query, language: language}
}

func (p *GitHubProvider) Name() string { return "GitHub 仓库" }

func (p *GitHubProvider) Provide(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	q := p.query(rc)
	if lang, ok := rc.Request().Option("language"); ok && lang != "" && p.language == "" {
		return p.searcher.SearchRepositories(ctx, q, lang)
	}
	return p.searcher.SearchRepositories(ctx, q, p.language)
}

// HistoryProvider 附加同一会话最近几次运行的记录
type HistoryProvider struct {
	memory  ChatMemory
	session string
	runs    int
}

// NewHistoryProvider runs 为保留的运行次数
func NewHistoryProvider(memory ChatMemory, session string, runs int) *HistoryProvider {
	return &HistoryProvider{memory: memory, session: session, runs: runs}
}

func (p *HistoryProvider) Name() string { return "历史记录" }

func (p *HistoryProvider) Provide(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	history, err := RecentRuns(ctx, p.memory, p.session, p.runs)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, strings.TrimSpace(msg.Content))
	}
	return sb.String(), nil
}

// ProviderFunc 函数形式的上下文提供者
type ProviderFunc struct {
	Label string
	Fn    func(ctx context.Context, rc *pipeline.RunContext) (string, error)
}

func (p ProviderFunc) Name() string { return p.Label }

func (p ProviderFunc) Provide(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	return p.Fn(ctx, rc)
}

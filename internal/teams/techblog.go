package teams

import (
	"github.com/cloudwego/eino/components/tool"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/constants"
	"agent-team-go/internal/pipeline"
)

// 博客流水线的阶段名和产物名
const (
	StageTechnicalResearcher = "technical_researcher"
	StageNewsTrends          = "news_trends"
	StageCodeExamples        = "code_examples"
	StageTechnicalWriter     = "technical_writer"

	ArtifactBlogPost = "blog_post.md"

	OptionLanguage = "language"
)

// GitHubSearcher GitHub 搜索工具需要同时作为工具和上下文来源
type GitHubSearcher interface {
	agent.RepositorySearcher
	tool.InvokableTool
}

// NewTechBlogTeam d.GitHub 和 d.Memory 为 nil 时对应能力关闭
func NewTechBlogTeam(d Deps, sessionID string) *Team {
	if sessionID == "" {
		sessionID = constants.BlogSessionID
	}
	cfg := d.config()
	runs := cfg.Pipeline.HistoryRuns
	if runs <= 0 {
		runs = constants.DefaultHistoryRuns
	}

	var researchOpts, writerOpts []agent.Option
	if d.GitHub != nil {
		researchOpts = append(researchOpts,
			agent.WithTools(d.GitHub),
			agent.WithProviders(agent.NewGitHubProvider(d.GitHub, nil, "")))
	}
	if d.Memory != nil {
		history := agent.NewHistoryProvider(d.Memory, sessionID, runs)
		researchOpts = append(researchOpts, agent.WithProviders(history))
		writerOpts = append(writerOpts, agent.WithProviders(history))
	}

	stages := []pipeline.StageSpec{
		llmStage(d, StageTechnicalResearcher, agent.Profile{
			Name: "技术研究员",
			Role: "擅长查找技术文档、GitHub 仓库和代码示例。",
			Instructions: []string{
				"1. 搜索与主题相关的 GitHub 仓库和项目",
				"2. 找出流行的库、框架和工具",
				"3. 关注维护活跃、文档完善的项目，注明版本和兼容性",
				"输出：列出最相关的 3-5 个仓库，说明关键特性和使用场景，附上 GitHub 地址。",
			},
		}, nil, researchOpts...),

		llmStage(d, StageNewsTrends, agent.Profile{
			Name: "技术趋势分析师",
			Role: "擅长追踪技术文章、教程和行业趋势。",
			Instructions: []string{
				"1. 总结近 6-12 个月的重要文章、博客和教程",
				"2. 归纳当前的最佳实践和常见陷阱",
				"3. 记录社区的主要观点和争议",
				"输出：列出 4-6 个最有价值的资源及其要点，注明来源。不要编造链接。",
			},
		}, nil),

		llmStage(d, StageCodeExamples, agent.Profile{
			Name: "代码示例工程师",
			Role: "擅长编写清晰实用的代码示例。",
			Instructions: []string{
				"1. 编写 2-3 个可运行的示例，从 10-20 行的基础示例到 20-40 行的实际用例",
				"2. 包含错误处理，适当添加类型注解",
				"3. 注释说明原因而不只是做法，并给出示例输出",
			},
		}, nil),

		llmStage(d, StageTechnicalWriter, agent.Profile{
			Name: "技术作者",
			Role: "负责把研究成果整合成结构完整的技术博客。",
			Instructions: append([]string{
				"博客结构：标题、引言、核心概念、热门工具与库（附 GitHub 链接）、最佳实践、代码示例、常见陷阱与解决方案、趋势展望、结论、参考资源。",
				"写作要求：段落简短，关键术语加粗，代码放在代码块中，所有来源附链接，不编造信息。",
				"博客正文使用 Markdown，整篇放在 blog_post.md 中；正文里的代码块请使用 ~~~ 作为围栏。",
			}, fileFormat(ArtifactBlogPost)...),
		}, []string{ArtifactBlogPost}, writerOpts...),
	}
	return &Team{Name: TeamTechBlog, Stages: stages}
}

package teams

import (
	"strings"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/constants"
	"agent-team-go/internal/parser"
	"agent-team-go/internal/pipeline"
)

// 代码生成流水线的阶段名和产物名
const (
	StageRequirementsAnalyst = "requirements_analyst"
	StageDocsExpert          = "docs_expert"
	StageCodeGenerator       = "code_generator"

	ArtifactRequirements = "requirements.json"
	ArtifactMainPy       = "main.py"
	ArtifactReadme       = "README.md"
	ArtifactRequirePip   = "requirements.txt"
	ArtifactEnvExample   = ".env.example"
)

// PackageFiles 生成的代码包必须包含的文件
var PackageFiles = []string{ArtifactMainPy, ArtifactReadme, ArtifactRequirePip, ArtifactEnvExample}

// Requirements requirements.json
type Requirements struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Purpose  string `json:"purpose"`
	Features struct {
		Tools     []string `json:"tools"`
		Memory    bool     `json:"memory"`
		Knowledge bool     `json:"knowledge"`
		Reasoning bool     `json:"reasoning"`
	} `json:"features"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

// NewBuilderTeam d.Knowledge 为 nil 时文档专家只依靠模型自身知识
func NewBuilderTeam(d Deps) *Team {
	var docsOpts []agent.Option
	if d.Knowledge != nil {
		limit := d.config().Knowledge.SearchLimit
		docsOpts = append(docsOpts, agent.WithProviders(
			agent.NewKnowledgeProvider(d.Knowledge, agent.StageQuery(StageRequirementsAnalyst), limit)))
	}

	stages := []pipeline.StageSpec{
		llmStage(d, StageRequirementsAnalyst, agent.Profile{
			Name: "需求分析师",
			Role: "负责分析用户开发智能体的需求。",
			Instructions: append([]string{
				"解析用户需求并输出如下结构的 JSON：",
				`{"type": "single_agent 或 agent_team", "name": "智能体名称", "purpose": "清晰的用途描述",`,
				`"features": {"tools": ["GitHub", "DuckDuckGo"], "memory": true, "knowledge": false, "reasoning": false},`,
				`"model": "gpt-4o", "instructions": "详细的指令"}`,
				"JSON 前后不要添加任何文字。",
			}, fileFormat(ArtifactRequirements)...),
		}, []string{ArtifactRequirements}),

		llmStage(d, StageDocsExpert, agent.Profile{
			Name: "Agno 文档专家",
			Role: "熟悉 Agno 框架。",
			Instructions: []string{
				"根据需求从参考文档中找出：",
				"- 正确的 Agno 导入方式",
				"- 所需工具的代码示例",
				"- Agent/Team 的配置示例",
				"- 最佳实践",
				"给出完整的代码示例和说明，只使用当前版本的写法。",
			},
		}, nil, docsOpts...),

		llmStage(d, StageCodeGenerator, agent.Profile{
			Name: "代码生成器",
			Role: "精通 Agno 框架的 Python 开发者。",
			Instructions: append([]string{
				"必须立即生成全部四个文件，不要征求确认，不要只给总结。",
				"main.py 要求：使用正确的导入 from agno.agent import Agent；代码完整可运行；包含错误处理和类型注解；在 if __name__ == '__main__' 中给出用法示例。",
				"README.md 要求：标题和简介、功能列表、安装步骤、使用示例。",
				"requirements.txt 列出依赖，例如 agno>=1.1.0。",
				".env.example 列出需要的环境变量，不要写入真实密钥。",
			}, fileFormat(PackageFiles...)...),
		}, PackageFiles),
	}
	return &Team{Name: TeamBuilder, Stages: stages}
}

// PackageName 需求中的智能体名称，缺失时使用默认名
func PackageName(rc *pipeline.RunContext) string {
	content, ok := rc.Artifact(ArtifactRequirements)
	if !ok {
		return constants.DefaultPackageName
	}
	var req Requirements
	if err := parser.DecodeJSON(content, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		return constants.DefaultPackageName
	}
	return req.Name
}

package teams

import (
	"context"
	"fmt"
	"strings"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/artifact"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/scoring"
)

// 筛选流水线的阶段名和产物名
const (
	StageResumeParser        = "resume_parser"
	StageSkillsMatcher       = "skills_matcher"
	StageExperienceEvaluator = "experience_evaluator"
	StageEducationEvaluator  = "education_evaluator"
	StageScorer              = "scorer"

	ArtifactResume     = "resume.json"
	ArtifactSkills     = "skills.json"
	ArtifactExperience = "experience.json"
	ArtifactEducation  = "education.json"
	ArtifactAssessment = "assessment.json"

	OptionCandidate = "candidate"
)

// ScreeningRequest 把职位描述和简历拼成一次运行的目标
func ScreeningRequest(jobDescription, resume, candidate string) pipeline.Request {
	goal := fmt.Sprintf("职位描述:\n%s\n\n---\n\n候选人简历:\n%s\n\n---\n\n请依次完成：解析简历、匹配技能、评估工作经验、评估教育背景。",
		strings.TrimSpace(jobDescription), strings.TrimSpace(resume))
	return pipeline.NewRequest(goal, map[string]string{OptionCandidate: candidate})
}

// NewScreeningTeam 四个模型阶段加一个本地评分阶段
func NewScreeningTeam(d Deps, agg *scoring.Aggregator) *Team {
	if agg == nil {
		agg = scoring.MustDefault()
	}
	stages := []pipeline.StageSpec{
		llmStage(d, StageResumeParser, agent.Profile{
			Name: "简历解析员",
			Role: "负责从简历中提取结构化信息。",
			Instructions: append([]string{
				"提取以下字段并输出为 JSON：",
				"1. name 候选人姓名",
				"2. email 邮箱",
				"3. phone 电话",
				"4. skills 技术技能数组",
				"5. total_years_experience 总工作年限（数字）",
				"6. experience 工作经历数组，每项包含 title, company, years（数字）, key_responsibilities（数组）",
				"7. education 教育经历数组，每项包含 degree, field, school, year",
				"只输出合法 JSON，不要附加其他文字。",
			}, fileFormat(ArtifactResume)...),
		}, []string{ArtifactResume}),

		llmStage(d, StageSkillsMatcher, agent.Profile{
			Name: "技能匹配员",
			Role: "负责将候选人技能与职位要求进行匹配。",
			Instructions: append([]string{
				"根据职位描述和解析后的简历输出 JSON：",
				"1. required_skills 职位要求的技能",
				"2. candidate_skills 候选人的技能",
				"3. matched_skills 匹配上的技能",
				"4. missing_skills 候选人缺少的必需技能",
				"5. bonus_skills 加分技能",
				"6. skills_match_score 匹配度 0-100",
				"考虑语义相近的写法，例如 React.js 与 React、PostgreSQL 与 Postgres。",
			}, fileFormat(ArtifactSkills)...),
		}, []string{ArtifactSkills}),

		llmStage(d, StageExperienceEvaluator, agent.Profile{
			Name: "经验评估员",
			Role: "负责评估工作经验的相关性和资历。",
			Instructions: append([]string{
				"根据职位描述和解析后的简历输出 JSON：",
				"1. required_years 职位要求年限",
				"2. candidate_years 候选人总年限",
				"3. meets_experience_requirement 是否满足要求 true/false",
				"4. relevant_experience 相关经历及简要说明",
				"5. seniority_level Junior/Mid/Senior/Lead",
				"6. progression 职业发展描述",
				"7. experience_score 0-100：年限 40 分，岗位相关性 30 分，资历与领导力 20 分，职业发展 10 分",
			}, fileFormat(ArtifactExperience)...),
		}, []string{ArtifactExperience}),

		llmStage(d, StageEducationEvaluator, agent.Profile{
			Name: "教育背景评估员",
			Role: "负责评估学历与职位的相关性以及其他加分因素。",
			Instructions: append([]string{
				"输出 JSON：",
				"1. education_score 学历相关性 0-100",
				"2. bonus_score 加分因素 0-100（领导经历、证书、开源贡献等）",
				"3. bonus_factors 加分因素列表",
				"4. concerns 需要关注的问题列表",
			}, fileFormat(ArtifactEducation)...),
		}, []string{ArtifactEducation}),

		{
			Name:        StageScorer,
			Invoker:     &scorer{agg: agg},
			Contract:    []string{ArtifactAssessment},
			MaxAttempts: 1,
		},
	}
	return &Team{Name: TeamScreening, Stages: stages}
}

// scorer 本地评分阶段，不调用模型
type scorer struct {
	agg *scoring.Aggregator
}

func (s *scorer) Invoke(_ context.Context, rc *pipeline.RunContext, _ pipeline.Directive) (string, error) {
	a, err := Assess(rc, s.agg)
	if err != nil {
		return "", err
	}
	content, err := a.JSON()
	if err != nil {
		return "", err
	}
	return artifact.Render([]artifact.Artifact{{Name: ArtifactAssessment, Content: content}})
}

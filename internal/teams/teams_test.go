package teams

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/artifact"
	"agent-team-go/internal/knowledge"
	"agent-team-go/internal/llm"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/scoring"
)

func render(artifacts ...artifact.Artifact) string {
	text, err := artifact.Render(artifacts)
	if err != nil {
		panic(err)
	}
	return text
}

func fileReply(name, content string) string {
	return "好的，结果如下：\n" + render(artifact.Artifact{Name: name, Content: content})
}

var (
	resumeReply     = fileReply(ArtifactResume, `{"name": "Michael Chen", "email": "m.chen@email.com", "skills": ["Python", "Django"], "total_years_experience": 9}`)
	skillsReply     = fileReply(ArtifactSkills, `{"matched_skills": ["Python", "Django"], "missing_skills": ["Kubernetes"], "bonus_skills": ["Redis"], "skills_match_score": 80}`)
	experienceReply = fileReply(ArtifactExperience, `{"required_years": 5, "candidate_years": 9, "meets_experience_requirement": true, "seniority_level": "Lead", "experience_score": "90"}`)
	educationReply  = fileReply(ArtifactEducation, `{"education_score": 70, "bonus_score": "60%", "bonus_factors": ["带领过 Scrum 团队"]}`)
)

func userPrompt(messages []*schema.Message) string {
	return messages[len(messages)-1].Content
}

func runTeam(t *testing.T, team *Team, req pipeline.Request) (*pipeline.RunContext, error) {
	t.Helper()
	exec, err := team.Executor()
	require.NoError(t, err)
	return exec.Run(context.Background(), req)
}

func TestScreeningTeamScoresCandidate(t *testing.T) {
	chat := llm.NewMockChatModel(resumeReply, skillsReply, experienceReply, educationReply)
	team := NewScreeningTeam(Deps{Chat: chat}, nil)
	assert.Equal(t, []string{StageResumeParser, StageSkillsMatcher, StageExperienceEvaluator, StageEducationEvaluator, StageScorer}, team.StageNames())

	rc, err := runTeam(t, team, ScreeningRequest("Senior Python Developer", "Michael Chen ...", "candidate_3.txt"))
	require.NoError(t, err)
	assert.Equal(t, 4, chat.CallCount())

	a, err := AssessmentFromRun(rc)
	require.NoError(t, err)
	// 80*.40 + 90*.35 + 70*.15 + 60*.10 = 80
	assert.Equal(t, 80, a.FinalScore)
	assert.Equal(t, scoring.TierYes, a.Recommendation)
	assert.Equal(t, "Michael Chen", a.CandidateName)
	assert.Equal(t, "Lead", a.SeniorityLevel)
	assert.Contains(t, a.Strengths, "带领过 Scrum 团队")
	assert.Equal(t, []string{"缺少技能: Kubernetes"}, a.Concerns)

	// 后续阶段能看到前面阶段的输出
	calls := chat.Calls()
	last := userPrompt(calls[3])
	assert.Contains(t, last, "## 阶段 resume_parser 的输出")
	assert.Contains(t, last, "## 阶段 experience_evaluator 的输出")
	assert.Contains(t, last, "Senior Python Developer")
}

func TestScreeningTeamRetriesWithStrictDirective(t *testing.T) {
	chat := llm.NewMockChatModel(resumeReply, "技能匹配度大约 80 分。", skillsReply, experienceReply, educationReply)
	rc, err := runTeam(t, NewScreeningTeam(Deps{Chat: chat}, nil), ScreeningRequest("job", "resume", "c1"))
	require.NoError(t, err)
	assert.Equal(t, 5, chat.CallCount())

	retry := userPrompt(chat.Calls()[2])
	assert.Contains(t, retry, "=== FILE: skills.json ===")
	out, ok := rc.Output(StageSkillsMatcher)
	require.True(t, ok)
	assert.Equal(t, 2, out.Attempt)
}

func TestScreeningTeamMissingScoreFailsScorer(t *testing.T) {
	noBonus := fileReply(ArtifactEducation, `{"education_score": 70}`)
	chat := llm.NewMockChatModel(resumeReply, skillsReply, experienceReply, noBonus)

	rc, err := runTeam(t, NewScreeningTeam(Deps{Chat: chat}, nil), ScreeningRequest("job", "resume", "c1"))
	require.Error(t, err)

	var runErr *pipeline.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageScorer, runErr.Stage)
	assert.ErrorIs(t, err, scoring.ErrMissingComponent)
	assert.Equal(t, 4, rc.Len())
}

func TestScreeningInvokerFailureStopsRun(t *testing.T) {
	chat := llm.NewMockChatModel(resumeReply)
	chat.Add(llm.MockReply{Err: errors.New("quota exceeded")})

	rc, err := runTeam(t, NewScreeningTeam(Deps{Chat: chat}, nil), ScreeningRequest("job", "resume", "c1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrStageFailed)
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 2, chat.CallCount())
}

func TestAssessUsesCandidateOptionWhenNameMissing(t *testing.T) {
	outputs := []pipeline.StageOutput{}
	for stage, reply := range map[string]string{
		StageResumeParser:        fileReply(ArtifactResume, `{"skills": []}`),
		StageSkillsMatcher:       skillsReply,
		StageExperienceEvaluator: experienceReply,
		StageEducationEvaluator:  educationReply,
	} {
		set, err := artifact.Parse(reply)
		require.NoError(t, err)
		outputs = append(outputs, pipeline.StageOutput{Stage: stage, Text: reply, Artifacts: set})
	}
	rc := pipeline.NewRunContextForTest(ScreeningRequest("job", "resume", "candidate_9.txt"), outputs...)

	a, err := Assess(rc, scoring.MustDefault())
	require.NoError(t, err)
	assert.Equal(t, "candidate_9.txt", a.CandidateName)
}

func TestScoreUnmarshal(t *testing.T) {
	var v struct {
		A Score  `json:"a"`
		B Score  `json:"b"`
		C Score  `json:"c"`
		D *Score `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 85.5, "b": "72", "c": " 64% ", "d": null}`), &v))
	assert.Equal(t, Score(85.5), v.A)
	assert.Equal(t, Score(72), v.B)
	assert.Equal(t, Score(64), v.C)
	assert.Nil(t, v.D)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "high"}`), &v))
}

type recordingSearcher struct {
	queries []string
}

func (s *recordingSearcher) Search(_ context.Context, query string) ([]knowledge.Passage, error) {
	s.queries = append(s.queries, query)
	return []knowledge.Passage{{Text: "from agno.agent import Agent", Source: "docs", RelevanceScore: 0.91}}, nil
}

func TestBuilderTeam(t *testing.T) {
	requirements := fileReply(ArtifactRequirements, `{"type": "single_agent", "name": "GitHub Searcher", "purpose": "search repos"}`)
	var files []artifact.Artifact
	for _, name := range PackageFiles {
		files = append(files, artifact.Artifact{Name: name, Content: "content of " + name})
	}
	chat := llm.NewMockChatModel(requirements, "使用 Agent(model=OpenAIChat(...)) 创建智能体。", render(files...))
	searcher := &recordingSearcher{}

	rc, err := runTeam(t, NewBuilderTeam(Deps{Chat: chat, Knowledge: searcher}), pipeline.NewRequest("Build an agent that searches GitHub", nil))
	require.NoError(t, err)

	assert.Equal(t, "GitHub Searcher", PackageName(rc))
	require.Len(t, searcher.queries, 1)
	assert.Contains(t, searcher.queries[0], "GitHub Searcher")

	docsPrompt := userPrompt(chat.Calls()[1])
	assert.Contains(t, docsPrompt, "## 参考文档")
	assert.Contains(t, docsPrompt, "来源 docs")

	for _, name := range PackageFiles {
		content, ok := rc.Artifact(name)
		require.True(t, ok, name)
		assert.Equal(t, "content of "+name, content)
	}
}

func TestPackageNameFallback(t *testing.T) {
	rc := pipeline.NewRunContextForTest(pipeline.NewRequest("x", nil))
	assert.Equal(t, "generated_agent", PackageName(rc))
}

type fakeGitHub struct {
	queries []string
}

func (f *fakeGitHub) SearchRepositories(_ context.Context, query, language string) (string, error) {
	f.queries = append(f.queries, query+"|"+language)
	return "仓库: tiangolo/fastapi\nStars: 80000", nil
}

func (f *fakeGitHub) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "github_search", Desc: "search"}, nil
}

func (f *fakeGitHub) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	return "", nil
}

func TestTechBlogTeam(t *testing.T) {
	memory := agent.NewInMemoryChatMemory()
	require.NoError(t, agent.RecordRun(context.Background(), memory, "blog", "上一次的主题", "上一篇博客", 3))

	chat := llm.NewMockChatModel("研究结果", "趋势总结", "代码示例", fileReply(ArtifactBlogPost, "# FastAPI 最佳实践\n\n正文"))
	gh := &fakeGitHub{}
	team := NewTechBlogTeam(Deps{Chat: chat, GitHub: gh, Memory: memory}, "blog")

	rc, err := runTeam(t, team, pipeline.NewRequest("FastAPI best practices", map[string]string{OptionLanguage: "python"}))
	require.NoError(t, err)

	post, ok := rc.Artifact(ArtifactBlogPost)
	require.True(t, ok)
	assert.Equal(t, "# FastAPI 最佳实践\n\n正文", post)
	assert.Equal(t, []string{"FastAPI best practices|python"}, gh.queries)

	research := userPrompt(chat.Calls()[0])
	assert.Contains(t, research, "tiangolo/fastapi")
	assert.Contains(t, research, "上一篇博客")
	opts := chat.LastOptions()
	require.NotNil(t, opts.Model)
	assert.Equal(t, "qwen-plus", *opts.Model)

	writer := userPrompt(chat.Calls()[3])
	assert.Contains(t, writer, "## 阶段 code_examples 的输出")
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/artifact"
	"agent-team-go/internal/config"
	"agent-team-go/internal/llm"
	"agent-team-go/internal/scoring"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
	"agent-team-go/internal/teams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func render(artifacts ...artifact.Artifact) string {
	text, err := artifact.Render(artifacts)
	if err != nil {
		panic(err)
	}
	return text
}

func file(name, content string) string {
	return render(artifact.Artifact{Name: name, Content: content})
}

// screeningModel 按系统提示词识别阶段，按简历内容识别候选人
func screeningModel() *llm.MockChatModel {
	chat := llm.NewMockChatModel()
	chat.Respond = func(_ context.Context, messages []*schema.Message) (string, error) {
		system := messages[0].Content
		user := messages[len(messages)-1].Content
		name := "Alice"
		switch {
		case strings.Contains(user, "Resume of Bob"):
			name = "Bob"
		case strings.Contains(user, "Resume of Carol"):
			name = "Carol"
		}

		switch {
		case strings.Contains(system, "简历解析员"):
			return file(teams.ArtifactResume, `{"name": "`+name+`", "skills": ["Go"]}`), nil
		case strings.Contains(system, "技能匹配员"):
			switch name {
			case "Carol":
				return "技能匹配度不错。", nil
			case "Bob":
				return file(teams.ArtifactSkills, `{"matched_skills": ["Go"], "skills_match_score": 50}`), nil
			}
			return file(teams.ArtifactSkills, `{"matched_skills": ["Go", "gRPC"], "skills_match_score": 90}`), nil
		case strings.Contains(system, "经验评估员"):
			return file(teams.ArtifactExperience, `{"experience_score": 80, "meets_experience_requirement": true}`), nil
		case strings.Contains(system, "教育背景评估员"):
			return file(teams.ArtifactEducation, `{"education_score": 70, "bonus_score": 60}`), nil
		}
		return "", errors.New("unexpected stage")
	}
	return chat
}

type fakeScreeningRepo struct {
	mu       sync.Mutex
	jobs     map[string]*models.ScreeningJob
	records  []models.ScreeningRecord
	events   []*models.OutboxMessage
	complete int
}

func newFakeScreeningRepo() *fakeScreeningRepo {
	return &fakeScreeningRepo{jobs: map[string]*models.ScreeningJob{}}
}

func (f *fakeScreeningRepo) CreateScreeningJob(_ context.Context, job *models.ScreeningJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = job
	return nil
}

func (f *fakeScreeningRepo) UpdateScreeningJobStatus(_ context.Context, jobID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = status
	return nil
}

func (f *fakeScreeningRepo) CompleteScreeningJob(_ context.Context, jobID string, records []models.ScreeningRecord, resultsPath string, events ...*models.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete++
	f.records = append(f.records, records...)
	f.events = append(f.events, events...)
	f.jobs[jobID].Status = models.JobStatusCompleted
	f.jobs[jobID].ResultsPath = resultsPath
	return nil
}

func (f *fakeScreeningRepo) GetScreeningJob(_ context.Context, jobID string) (*models.ScreeningJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

type fakeLocker struct {
	held     map[string]string
	released int
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.held[key] = "token"
	return "token", nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	if l.held[key] != token {
		return false, nil
	}
	delete(l.held, key)
	l.released++
	return true, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Pipeline.Concurrency = 2
	cfg.Pipeline.CandidatePause = ""
	return cfg
}

func TestScreenAllRanksAndRecordsFailures(t *testing.T) {
	cfg := testConfig(t)
	repo := newFakeScreeningRepo()
	tracker := NewMemoryRunTracker()
	svc, err := NewScreeningService(teams.Deps{Chat: screeningModel()}, cfg, WithRepository(repo), WithTracker(tracker))
	require.NoError(t, err)

	report, err := svc.ScreenAll(context.Background(), JobSpec{JobID: "job-1", Title: "Go 工程师", Description: "招聘 Go 后端工程师"}, []Candidate{
		{Name: "bob.txt", Resume: "Resume of Bob"},
		{Name: "carol.txt", Resume: "Resume of Carol"},
		{Name: "alice.txt", Resume: "Resume of Alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 3)

	// 90*.40 + 80*.35 + 70*.15 + 60*.10 = 80.5
	first := report.Results[0]
	require.NotNil(t, first.Assessment)
	assert.Equal(t, "alice.txt", first.Candidate)
	assert.Equal(t, 80, first.Assessment.FinalScore)
	assert.Equal(t, scoring.TierYes, first.Assessment.Recommendation)

	// 50*.40 + 80*.35 + 70*.15 + 60*.10 = 64.5
	second := report.Results[1]
	require.NotNil(t, second.Assessment)
	assert.Equal(t, 64, second.Assessment.FinalScore)
	assert.Equal(t, scoring.TierMaybe, second.Assessment.Recommendation)

	failed := report.Results[2]
	assert.Nil(t, failed.Assessment)
	assert.Equal(t, teams.StageSkillsMatcher, failed.FailedStage)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, []string{teams.ArtifactSkills}, failed.Missing)

	st, err := tracker.Get(context.Background(), failed.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFailed, st.Status)
	assert.Equal(t, teams.StageSkillsMatcher, st.Stage)
	assert.Equal(t, 1, st.StageIdx)

	st, err = tracker.Get(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusSucceeded, st.Status)
	assert.Equal(t, teams.StageScorer, st.Stage)

	// 结果文件
	assert.Equal(t, filepath.Join(cfg.Pipeline.OutputDir, "screening_results"), filepath.Dir(report.ResultsPath))
	assert.True(t, strings.HasPrefix(filepath.Base(report.ResultsPath), "screening_results_"))
	data, err := os.ReadFile(report.ResultsPath)
	require.NoError(t, err)
	var saved []CandidateResult
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Len(t, saved, 3)

	// 持久化与事件
	assert.Equal(t, 1, repo.complete)
	assert.Len(t, repo.records, 3)
	assert.Equal(t, models.JobStatusCompleted, repo.jobs["job-1"].Status)
	require.Len(t, repo.events, 1)
	var ev storage.ScreeningCompletedEvent
	require.NoError(t, json.Unmarshal([]byte(repo.events[0].Payload), &ev))
	assert.Equal(t, 2, ev.Succeeded)
	require.Len(t, ev.Ranking, 2)
	assert.Equal(t, "Alice", ev.Ranking[0].Name)
	assert.Equal(t, "screening.completed", repo.events[0].TargetRoutingKey)
}

func TestScreenAllValidatesInput(t *testing.T) {
	svc, err := NewScreeningService(teams.Deps{Chat: screeningModel()}, testConfig(t))
	require.NoError(t, err)

	_, err = svc.ScreenAll(context.Background(), JobSpec{Description: "job"}, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = svc.ScreenAll(context.Background(), JobSpec{}, []Candidate{{Resume: "Resume of Alice"}})
	assert.ErrorIs(t, err, ErrEmptyJob)
}

func TestScreenAllHonoursBatchLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{storage.BatchLockKey("busy"): "other"}}
	svc, err := NewScreeningService(teams.Deps{Chat: screeningModel()}, testConfig(t), WithLocker(locker))
	require.NoError(t, err)

	_, err = svc.ScreenAll(context.Background(), JobSpec{JobID: "busy", Description: "job"}, []Candidate{{Resume: "Resume of Alice"}})
	assert.ErrorIs(t, err, ErrBatchInProgress)

	report, err := svc.ScreenAll(context.Background(), JobSpec{JobID: "free", Description: "job"}, []Candidate{{Resume: "Resume of Alice"}})
	require.NoError(t, err)
	assert.Equal(t, "candidate_1", report.Results[0].Candidate)
	assert.Equal(t, 1, locker.released)
}

func TestScreenAllCancelledContext(t *testing.T) {
	svc, err := NewScreeningService(teams.Deps{Chat: screeningModel()}, testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.ScreenAll(ctx, JobSpec{Description: "job"}, []Candidate{{Resume: "Resume of Alice"}, {Resume: "Resume of Bob"}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, teams.StageResumeParser, report.Results[0].FailedStage)
}

type fakeBuildRepo struct{ builds []*models.AgentBuild }

func (f *fakeBuildRepo) SaveAgentBuild(_ context.Context, b *models.AgentBuild) error {
	f.builds = append(f.builds, b)
	return nil
}

const generatedMain = `"""天气查询智能体"""
import os
from agno.agent import Agent
from agno.models.openai import OpenAIChat


def build() -> Agent:
    return Agent(model=OpenAIChat(id="gpt-4o"), instructions=["查询天气"])


if __name__ == "__main__":
    try:
        build().print_response("北京天气")
    except Exception as e:
        print(e)
`

func builderModel() *llm.MockChatModel {
	chat := llm.NewMockChatModel()
	chat.Respond = func(_ context.Context, messages []*schema.Message) (string, error) {
		system := messages[0].Content
		switch {
		case strings.Contains(system, "需求分析师"):
			return file(teams.ArtifactRequirements, `{"type": "single_agent", "name": "Weather Agent"}`), nil
		case strings.Contains(system, "文档专家"):
			return "使用 from agno.agent import Agent", nil
		case strings.Contains(system, "代码生成器"):
			return render(
				artifact.Artifact{Name: teams.ArtifactMainPy, Content: generatedMain},
				artifact.Artifact{Name: teams.ArtifactReadme, Content: "# Weather Agent"},
				artifact.Artifact{Name: teams.ArtifactRequirePip, Content: "agno>=1.1.0"},
				artifact.Artifact{Name: teams.ArtifactEnvExample, Content: "OPENAI_API_KEY="},
			), nil
		}
		return "", errors.New("unexpected stage")
	}
	return chat
}

func TestBuilderServiceWritesPackage(t *testing.T) {
	cfg := testConfig(t)
	repo := &fakeBuildRepo{}
	tracker := NewMemoryRunTracker()
	svc := NewBuilderService(teams.Deps{Chat: builderModel()}, cfg, nil, repo, tracker)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }

	res, err := svc.Build(context.Background(), "做一个查询天气的智能体")
	require.NoError(t, err)

	assert.Equal(t, "Weather Agent", res.PackageName)
	assert.Equal(t, filepath.Join(cfg.Pipeline.OutputDir, "weather_agent_20250301_093000"), res.Location)
	assert.ElementsMatch(t, teams.PackageFiles, res.Files)
	assert.Empty(t, res.Failures)
	assert.True(t, res.Validation.Valid)
	assert.Contains(t, res.Report, "得分:")

	body, err := os.ReadFile(filepath.Join(res.Location, teams.ArtifactMainPy))
	require.NoError(t, err)
	assert.Equal(t, generatedMain, string(body))

	require.Len(t, repo.builds, 1)
	assert.Equal(t, res.RunID, repo.builds[0].RunID)
	assert.Equal(t, res.Validation.Score, repo.builds[0].Score)

	st, err := svc.RunStatus(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, teams.TeamBuilder, st.Team)
	assert.Equal(t, storage.RunStatusSucceeded, st.Status)
}

func TestBuilderServiceRejectsEmptyRequest(t *testing.T) {
	svc := NewBuilderService(teams.Deps{Chat: builderModel()}, testConfig(t), nil, nil, nil)
	_, err := svc.Build(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = svc.RunStatus(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type fakeBlogRepo struct{ posts []*models.BlogPost }

func (f *fakeBlogRepo) SaveBlogPost(_ context.Context, p *models.BlogPost) error {
	f.posts = append(f.posts, p)
	return nil
}

func TestBlogServiceRecordsHistory(t *testing.T) {
	chat := llm.NewMockChatModel()
	chat.Respond = func(_ context.Context, messages []*schema.Message) (string, error) {
		if strings.Contains(messages[0].Content, "技术作者") {
			return file(teams.ArtifactBlogPost, "# Go 泛型实践\n\n~~~go\nfunc Map[T any]() {}\n~~~"), nil
		}
		return "研究笔记", nil
	}
	memory := agent.NewInMemoryChatMemory()
	repo := &fakeBlogRepo{}
	cfg := testConfig(t)
	svc := NewBlogService(teams.Deps{Chat: chat, Memory: memory}, cfg, nil, repo, nil)

	res, err := svc.Write(context.Background(), "Go 泛型", "go")
	require.NoError(t, err)
	assert.Contains(t, res.Content, "# Go 泛型实践")
	assert.Contains(t, res.Content, "~~~go")
	require.NotEmpty(t, res.Location)
	_, err = os.Stat(filepath.Join(res.Location, teams.ArtifactBlogPost))
	require.NoError(t, err)

	history, err := memory.GetHistory(context.Background(), "blog_writer_session")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Go 泛型", history[0].Content)

	require.Len(t, repo.posts, 1)
	assert.Equal(t, "go", repo.posts[0].Language)

	_, err = svc.Write(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/artifact"
	"agent-team-go/internal/config"
	"agent-team-go/internal/constants"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/storage/models"
	"agent-team-go/internal/teams"
)

// BlogResult 一篇博客
type BlogResult struct {
	RunID    string `json:"run_id"`
	Topic    string `json:"topic"`
	Content  string `json:"content"`
	Location string `json:"location,omitempty"`
}

// BlogRepository 博客持久化
type BlogRepository interface {
	SaveBlogPost(ctx context.Context, post *models.BlogPost) error
}

// BlogService 写技术博客，并把本次运行写入会话历史
type BlogService struct {
	runner
	team     *teams.Team
	memory   agent.ChatMemory
	session  string
	keepRuns int
	writer   artifact.Writer
	repo     BlogRepository
	now      func() time.Time
}

// NewBlogService d.Memory 为 nil 时不保留历史
func NewBlogService(d teams.Deps, cfg *config.Config, writer artifact.Writer, repo BlogRepository, tracker RunTracker) *BlogService {
	if cfg == nil {
		cfg = config.Default()
	}
	d.Config = cfg
	keep := cfg.Pipeline.HistoryRuns
	if keep <= 0 {
		keep = constants.DefaultHistoryRuns
	}
	if writer == nil {
		writer = artifact.NewFSWriter(cfg.Pipeline.OutputDir)
	}
	return &BlogService{
		runner:   runner{tracker: tracker},
		team:     teams.NewTechBlogTeam(d, constants.BlogSessionID),
		memory:   d.Memory,
		session:  constants.BlogSessionID,
		keepRuns: keep,
		writer:   writer,
		repo:     repo,
		now:      time.Now,
	}
}

// Write language 非空时限定 GitHub 搜索的语言
func (s *BlogService) Write(ctx context.Context, topic, language string) (*BlogResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyRequest
	}
	var opts map[string]string
	if language != "" {
		opts = map[string]string{teams.OptionLanguage: language}
	}

	runID := newRunID()
	rc, err := s.execute(ctx, s.team, runID, pipeline.NewRequest(topic, opts))
	if err != nil {
		return nil, err
	}
	content, ok := rc.Artifact(teams.ArtifactBlogPost)
	if !ok {
		return nil, fmt.Errorf("运行 %s 没有生成 %s", runID, teams.ArtifactBlogPost)
	}
	res := &BlogResult{RunID: runID, Topic: topic, Content: content}
	log := logger.Ctx(ctx).With().Str("run_id", runID).Logger()

	if err := agent.RecordRun(ctx, s.memory, s.session, topic, content, s.keepRuns); err != nil {
		log.Warn().Err(err).Msg("写入会话历史失败")
	}

	dir := path.Join("blog_posts", artifact.PackageDir(topic, s.now()))
	wr, err := artifact.Handoff(ctx, s.writer, dir, []artifact.Artifact{{Name: teams.ArtifactBlogPost, Content: content}})
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("保存博客文件失败")
	case len(wr.Failures) > 0:
		log.Warn().Err(wr.Failures[0]).Msg("保存博客文件失败")
	default:
		res.Location = wr.Location
	}

	if s.repo != nil {
		if err := s.repo.SaveBlogPost(ctx, &models.BlogPost{RunID: runID, Topic: topic, Language: language, Content: content}); err != nil {
			return res, err
		}
	}
	log.Info().Str("topic", topic).Int("length", len(content)).Msg("博客已生成")
	return res, nil
}

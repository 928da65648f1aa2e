package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"agent-team-go/internal/artifact"
	"agent-team-go/internal/codecheck"
	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/storage/models"
	"agent-team-go/internal/teams"
)

// ErrEmptyRequest 请求内容为空
var ErrEmptyRequest = errors.New("请求内容不能为空")

// BuildResult 一次代码生成的结果
type BuildResult struct {
	RunID       string           `json:"run_id"`
	PackageName string           `json:"package_name"`
	Location    string           `json:"location"`
	Files       []string         `json:"files"`
	Failures    []string         `json:"failures,omitempty"`
	Validation  codecheck.Result `json:"validation"`
	Report      string           `json:"report"`
}

// BuildRepository 构建记录持久化
type BuildRepository interface {
	SaveAgentBuild(ctx context.Context, build *models.AgentBuild) error
}

// BuilderService 生成智能体代码包，校验 main.py 后交给写入方
type BuilderService struct {
	runner
	team   *teams.Team
	writer artifact.Writer
	repo   BuildRepository
	now    func() time.Time
}

// NewBuilderService writer 为 nil 时写入本地输出目录
func NewBuilderService(d teams.Deps, cfg *config.Config, writer artifact.Writer, repo BuildRepository, tracker RunTracker) *BuilderService {
	if cfg == nil {
		cfg = config.Default()
	}
	d.Config = cfg
	if writer == nil {
		writer = artifact.NewFSWriter(cfg.Pipeline.OutputDir)
	}
	return &BuilderService{
		runner: runner{tracker: tracker},
		team:   teams.NewBuilderTeam(d),
		writer: writer,
		repo:   repo,
		now:    time.Now,
	}
}

// Build 运行流水线；写入失败的单个文件记录在结果中，不作为错误返回
func (s *BuilderService) Build(ctx context.Context, request string) (*BuildResult, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}
	runID := newRunID()
	rc, err := s.execute(ctx, s.team, runID, pipeline.NewRequest(request, nil))
	if err != nil {
		return nil, err
	}

	out, ok := rc.Output(teams.StageCodeGenerator)
	if !ok || out.Artifacts == nil {
		return nil, fmt.Errorf("运行 %s 没有生成代码产物", runID)
	}
	files := out.Artifacts.Artifacts()

	res := &BuildResult{RunID: runID, PackageName: teams.PackageName(rc)}
	mainPy, _ := out.Artifacts.Get(teams.ArtifactMainPy)
	res.Validation = codecheck.Validate(mainPy)
	res.Report = codecheck.FormatReport(res.Validation)

	wr, err := artifact.Handoff(ctx, s.writer, artifact.PackageDir(res.PackageName, s.now()), files)
	if err != nil {
		return nil, fmt.Errorf("写出代码包失败: %w", err)
	}
	res.Location = wr.Location
	failed := make(map[string]bool, len(wr.Failures))
	for _, f := range wr.Failures {
		failed[f.Name] = true
		res.Failures = append(res.Failures, f.Error())
	}
	for _, f := range files {
		if !failed[f.Name] {
			res.Files = append(res.Files, f.Name)
		}
	}

	logger.Ctx(ctx).Info().
		Str("run_id", runID).
		Str("package", res.PackageName).
		Str("location", res.Location).
		Bool("valid", res.Validation.Valid).
		Int("score", res.Validation.Score).
		Msg("代码包已生成")

	if s.repo != nil {
		names, _ := json.Marshal(res.Files)
		err := s.repo.SaveAgentBuild(ctx, &models.AgentBuild{
			RunID:       runID,
			Request:     request,
			PackageName: res.PackageName,
			Location:    res.Location,
			Files:       datatypes.JSON(names),
			Valid:       res.Validation.Valid,
			Score:       res.Validation.Score,
			Report:      res.Report,
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

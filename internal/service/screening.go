package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"agent-team-go/internal/artifact"
	"agent-team-go/internal/config"
	"agent-team-go/internal/constants"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/metrics"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/scoring"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
	"agent-team-go/internal/teams"
	"agent-team-go/internal/tracing"
)

var (
	ErrNoCandidates    = errors.New("没有待筛选的候选人")
	ErrEmptyJob        = errors.New("职位描述不能为空")
	ErrBatchInProgress = errors.New("该批次正在筛选中")
)

// Candidate 一份待筛选的简历
type Candidate = storage.CandidateInput

// JobSpec 筛选针对的职位
type JobSpec struct {
	JobID       string `json:"job_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
}

// CandidateResult 单个候选人的结果；失败时 Assessment 为空并给出失败阶段
type CandidateResult struct {
	Candidate   string            `json:"candidate"`
	RunID       string            `json:"run_id"`
	Status      string            `json:"status"`
	Assessment  *teams.Assessment `json:"assessment,omitempty"`
	Error       string            `json:"error,omitempty"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	Missing     []string          `json:"missing,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Succeeded 是否得到评估
func (r CandidateResult) Succeeded() bool {
	return r.Assessment != nil
}

// ScreeningReport 一个批次的结果，成功者按分数降序，失败者排在最后并保持输入顺序
type ScreeningReport struct {
	JobID       string            `json:"job_id"`
	Title       string            `json:"title,omitempty"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Results     []CandidateResult `json:"results"`
	ResultsPath string            `json:"results_path,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Ranking 成功候选人的排名
func (r *ScreeningReport) Ranking() []storage.RankedCandidate {
	var out []storage.RankedCandidate
	for _, res := range r.Results {
		if res.Assessment == nil {
			continue
		}
		out = append(out, storage.RankedCandidate{
			Name:           res.Assessment.CandidateName,
			FinalScore:     res.Assessment.FinalScore,
			Recommendation: string(res.Assessment.Recommendation),
		})
	}
	return out
}

// ScreeningRepository 批次持久化，storage.SQLStore 实现
type ScreeningRepository interface {
	CreateScreeningJob(ctx context.Context, job *models.ScreeningJob) error
	UpdateScreeningJobStatus(ctx context.Context, jobID, status string) error
	CompleteScreeningJob(ctx context.Context, jobID string, records []models.ScreeningRecord, resultsPath string, events ...*models.OutboxMessage) error
	GetScreeningJob(ctx context.Context, jobID string) (*models.ScreeningJob, error)
}

// Locker 批次锁，storage.Redis 实现
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

var (
	_ ScreeningRepository = (*storage.SQLStore)(nil)
	_ Locker              = (*storage.Redis)(nil)
)

// ScreeningService 并发筛选一批候选人
type ScreeningService struct {
	runner
	team        *teams.Team
	repo        ScreeningRepository
	locker      Locker
	concurrency int
	pause       time.Duration
	outputDir   string
	exchange    string
	completedRK string
	now         func() time.Time
}

// ScreeningOption 可选依赖
type ScreeningOption func(*ScreeningService)

// WithRepository 保存批次与结果，并登记完成事件
func WithRepository(repo ScreeningRepository) ScreeningOption {
	return func(s *ScreeningService) { s.repo = repo }
}

// WithLocker 防止同一批次被重复处理
func WithLocker(l Locker) ScreeningOption {
	return func(s *ScreeningService) { s.locker = l }
}

// WithTracker 记录每个候选人运行的进度
func WithTracker(t RunTracker) ScreeningOption {
	return func(s *ScreeningService) { s.tracker = t }
}

// NewScreeningService 并发度、间隔、输出目录和事件路由取自配置
func NewScreeningService(d teams.Deps, cfg *config.Config, opts ...ScreeningOption) (*ScreeningService, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	agg, err := scoring.NewAggregator(cfg.Scoring.Weights)
	if err != nil {
		return nil, err
	}
	d.Config = cfg
	s := &ScreeningService{
		team:        teams.NewScreeningTeam(d, agg),
		concurrency: cfg.Pipeline.Concurrency,
		pause:       config.GetDuration(cfg.Pipeline.CandidatePause, 0),
		outputDir:   cfg.Pipeline.OutputDir,
		exchange:    cfg.RabbitMQ.Exchange,
		completedRK: cfg.RabbitMQ.CompletedRoutingKey,
		now:         time.Now,
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.outputDir == "" {
		s.outputDir = constants.DefaultOutputDir
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScreenAll 每个候选人一条独立流水线，并发数受限；单个失败不影响其他候选人。
// 只有批次级别的问题（无候选人、锁冲突、落盘或持久化失败）才返回错误。
func (s *ScreeningService) ScreenAll(ctx context.Context, job JobSpec, candidates []Candidate) (*ScreeningReport, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if job.Description == "" {
		return nil, ErrEmptyJob
	}
	if job.JobID == "" {
		job.JobID = newRunID()
	}
	log := logger.Ctx(ctx).With().Str("job_id", job.JobID).Logger()

	if s.locker != nil {
		key := storage.BatchLockKey(job.JobID)
		token, err := s.locker.AcquireLock(ctx, key, constants.BatchLockTTL)
		if err != nil {
			return nil, fmt.Errorf("获取批次锁失败: %w", err)
		}
		if token == "" {
			return nil, ErrBatchInProgress
		}
		defer func() {
			if _, err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Err(err).Msg("释放批次锁失败")
			}
		}()
	}

	if err := s.markRunning(ctx, job, len(candidates)); err != nil {
		return nil, err
	}

	log.Info().Int("candidates", len(candidates)).Int("concurrency", s.concurrency).Msg("开始筛选")
	results := make([]CandidateResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			// 复用空出的并发槽位前稍作停顿，缓解模型接口限流
			if i >= s.concurrency && s.pause > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(s.pause):
				}
			}
			results[i] = s.screenOne(gctx, job, c, i)
			return nil
		})
	}
	_ = g.Wait()

	report := s.buildReport(job, results)
	// 批次被取消时已有结果仍需落盘
	saveCtx := context.WithoutCancel(ctx)
	path, err := s.saveResults(saveCtx, report)
	if err != nil {
		return report, err
	}
	report.ResultsPath = path

	if err := s.persist(saveCtx, report); err != nil {
		return report, err
	}
	log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Str("path", path).Msg("筛选完成")
	return report, nil
}

func (s *ScreeningService) markRunning(ctx context.Context, job JobSpec, count int) error {
	if s.repo == nil {
		return nil
	}
	err := s.repo.UpdateScreeningJobStatus(ctx, job.JobID, models.JobStatusRunning)
	if errors.Is(err, storage.ErrNotFound) {
		err = s.repo.CreateScreeningJob(ctx, &models.ScreeningJob{
			JobID:          job.JobID,
			Title:          job.Title,
			Description:    job.Description,
			Status:         models.JobStatusRunning,
			CandidateCount: count,
		})
	}
	return err
}

func candidateLabel(c Candidate, index int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("candidate_%d", index+1)
}

func (s *ScreeningService) screenOne(ctx context.Context, job JobSpec, c Candidate, index int) CandidateResult {
	label := candidateLabel(c, index)
	res := CandidateResult{Candidate: label, RunID: newRunID(), Status: models.RecordStatusFailed}
	logger.Ctx(ctx).Debug().
		Str("run_id", res.RunID).
		Str("candidate", tracing.SafeAttributeValue("candidate_name", label, tracing.DefaultMaxLength)).
		Str("resume", tracing.SafeResumeContent(c.Resume)).
		Msg("开始筛选候选人")

	rc, err := s.execute(ctx, s.team, res.RunID, teams.ScreeningRequest(job.Description, c.Resume, label))
	res.Timestamp = s.now()
	if err != nil {
		res.Error = err.Error()
		var re *pipeline.RunError
		if errors.As(err, &re) {
			res.FailedStage = re.Stage
			res.Attempts = re.Attempts
			res.Missing = re.Missing
		}
		return res
	}

	a, err := teams.AssessmentFromRun(rc)
	if err != nil {
		res.Error = err.Error()
		res.FailedStage = teams.StageScorer
		return res
	}
	res.Assessment = &a
	res.Status = models.RecordStatusSucceeded
	metrics.IncreaseCandidates(string(a.Recommendation))
	return res
}

func (s *ScreeningService) buildReport(job JobSpec, results []CandidateResult) *ScreeningReport {
	sorted := make([]CandidateResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Assessment, sorted[j].Assessment
		switch {
		case a != nil && b != nil:
			return a.FinalScore > b.FinalScore
		case a != nil:
			return true
		default:
			return false
		}
	})

	report := &ScreeningReport{
		JobID:       job.JobID,
		Title:       job.Title,
		Total:       len(results),
		Results:     sorted,
		CompletedAt: s.now(),
	}
	for _, r := range sorted {
		if r.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

// saveResults 写出 <output>/screening_results/screening_results_<ts>.json
func (s *ScreeningService) saveResults(ctx context.Context, report *ScreeningReport) (string, error) {
	data, err := json.MarshalIndent(report.Results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化筛选结果失败: %w", err)
	}
	name := fmt.Sprintf("screening_results_%s.json", report.CompletedAt.Format("20060102_150405"))
	wr, err := artifact.NewFSWriter(s.outputDir).Write(ctx, constants.ScreeningResultsDir,
		[]artifact.Artifact{{Name: name, Content: string(data)}})
	if err != nil {
		return "", err
	}
	if len(wr.Failures) > 0 {
		return "", wr.Failures[0]
	}
	return filepath.Join(wr.Location, name), nil
}

func (s *ScreeningService) persist(ctx context.Context, report *ScreeningReport) error {
	if s.repo == nil {
		return nil
	}
	records := make([]models.ScreeningRecord, 0, len(report.Results))
	for _, r := range report.Results {
		rec := models.ScreeningRecord{
			RunID:         r.RunID,
			CandidateName: r.Candidate,
			Status:        r.Status,
			FailedStage:   r.FailedStage,
			Attempts:      r.Attempts,
			ErrorMessage:  r.Error,
		}
		if len(r.Missing) > 0 {
			missing, _ := json.Marshal(r.Missing)
			rec.MissingNames = datatypes.JSON(missing)
		}
		if a := r.Assessment; a != nil {
			body, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("序列化评估结果失败: %w", err)
			}
			rec.CandidateName = a.CandidateName
			rec.Email = a.Email
			rec.FinalScore = a.FinalScore
			rec.Recommendation = string(a.Recommendation)
			rec.Assessment = datatypes.JSON(body)
		}
		records = append(records, rec)
	}

	var events []*models.OutboxMessage
	if s.exchange != "" && s.completedRK != "" {
		status := models.JobStatusCompleted
		if report.Succeeded == 0 {
			status = models.JobStatusFailed
		}
		ev, err := storage.NewOutboxMessage(report.JobID, storage.EventScreeningCompleted, s.exchange, s.completedRK,
			storage.ScreeningCompletedEvent{
				JobID:       report.JobID,
				Status:      status,
				Total:       report.Total,
				Succeeded:   report.Succeeded,
				Failed:      report.Failed,
				Ranking:     report.Ranking(),
				ResultsPath: report.ResultsPath,
				CompletedAt: report.CompletedAt,
			})
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	return s.repo.CompleteScreeningJob(ctx, report.JobID, records, report.ResultsPath, events...)
}

// GetJob 查询批次结果
func (s *ScreeningService) GetJob(ctx context.Context, jobID string) (*models.ScreeningJob, error) {
	if s.repo == nil {
		return nil, storage.ErrNotFound
	}
	return s.repo.GetScreeningJob(ctx, jobID)
}

// Stages 流水线阶段名
func (s *ScreeningService) Stages() []string {
	return s.team.StageNames()
}

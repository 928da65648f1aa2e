// Package service 在团队流水线之上完成一次完整的业务运行：状态跟踪、持久化、结果落盘
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/metrics"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/teams"
)

// RunTracker 保存运行进度，storage.RunStore 是 Redis 实现
type RunTracker interface {
	Update(ctx context.Context, runID string, fields map[string]interface{}) error
	Get(ctx context.Context, runID string) (*storage.RunStatus, error)
}

var _ RunTracker = (*storage.RunStore)(nil)

// MemoryRunTracker 进程内实现，命令行和测试使用
type MemoryRunTracker struct {
	mu   sync.Mutex
	runs map[string]*storage.RunStatus
}

// NewMemoryRunTracker 创建进程内跟踪器
func NewMemoryRunTracker() *MemoryRunTracker {
	return &MemoryRunTracker{runs: make(map[string]*storage.RunStatus)}
}

// Update 实现 RunTracker
func (m *MemoryRunTracker) Update(_ context.Context, runID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.runs[runID]
	if !ok {
		st = &storage.RunStatus{RunID: runID}
		m.runs[runID] = st
	}
	for k, v := range fields {
		switch k {
		case "team":
			st.Team, _ = v.(string)
		case "status":
			st.Status, _ = v.(string)
		case "stage":
			st.Stage, _ = v.(string)
		case "stage_index":
			st.StageIdx, _ = v.(int)
		case "attempt":
			st.Attempt, _ = v.(int)
		case "missing":
			st.Missing, _ = v.(string)
		case "error":
			st.Error, _ = v.(string)
		}
	}
	st.UpdatedAt = time.Now()
	return nil
}

// Get 实现 RunTracker
func (m *MemoryRunTracker) Get(_ context.Context, runID string) (*storage.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// trackingObserver 把阶段进度写入 RunTracker，写入失败只记录日志
type trackingObserver struct {
	ctx     context.Context
	tracker RunTracker
	runID   string
	log     *zerolog.Logger
}

func (o *trackingObserver) update(fields map[string]interface{}) {
	if err := o.tracker.Update(o.ctx, o.runID, fields); err != nil {
		o.log.Warn().Err(err).Msg("更新运行状态失败")
	}
}

func (o *trackingObserver) OnAttempt(stage string, attempt int, passed bool, missing []string) {
	fields := map[string]interface{}{"stage": stage, "attempt": attempt, "missing": ""}
	if !passed {
		fields["missing"] = strings.Join(missing, ",")
	}
	o.update(fields)
}

func (o *trackingObserver) OnStageStart(stage string, index int) {
	o.update(map[string]interface{}{"stage": stage, "stage_index": index, "attempt": 0})
}

func (o *trackingObserver) OnStageDone(string, int, error) {}

var _ pipeline.StageObserver = (*trackingObserver)(nil)

// runner 为每次运行创建执行器，挂上日志、指标和状态跟踪
type runner struct {
	tracker RunTracker
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

// execute 运行团队流水线，runID 为空时生成新的
func (r runner) execute(ctx context.Context, team *teams.Team, runID string, req pipeline.Request) (*pipeline.RunContext, error) {
	if runID == "" {
		runID = newRunID()
	}
	ctx = logger.WithRun(ctx, runID)
	log := logger.Ctx(ctx).With().Str("team", team.Name).Logger()

	observers := pipeline.MultiObserver{
		pipeline.NewLogObserver(log),
		metrics.NewPipelineObserver(team.Name),
	}
	if r.tracker != nil {
		tracker := &trackingObserver{ctx: ctx, tracker: r.tracker, runID: runID, log: &log}
		tracker.update(map[string]interface{}{"team": team.Name, "status": storage.RunStatusRunning, "error": ""})
		observers = append(observers, tracker)
	}

	exec, err := team.Executor(
		pipeline.WithObserver(observers),
		pipeline.WithRunIDGenerator(func() string { return runID }),
	)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info().Msg("开始运行")
	rc, runErr := exec.Run(ctx, req)

	status := storage.RunStatusSucceeded
	final := map[string]interface{}{"status": status}
	if runErr != nil {
		status = storage.RunStatusFailed
		final["status"] = status
		final["error"] = runErr.Error()
		var re *pipeline.RunError
		if errors.As(runErr, &re) {
			final["stage"] = re.Stage
			final["stage_index"] = re.StageIndex
			final["attempt"] = re.Attempts
			final["missing"] = strings.Join(re.Missing, ",")
		}
		log.Error().Err(runErr).Dur("elapsed", time.Since(start)).Msg("运行失败")
	} else {
		log.Info().Dur("elapsed", time.Since(start)).Msg("运行完成")
	}
	metrics.ObserveRun(team.Name, strings.ToLower(status), time.Since(start))

	if r.tracker != nil {
		// 调用方取消后仍需写入最终状态
		if err := r.tracker.Update(context.WithoutCancel(ctx), runID, final); err != nil {
			log.Warn().Err(err).Msg("写入最终运行状态失败")
		}
	}
	return rc, runErr
}

// RunStatus 查询运行状态
func (r runner) RunStatus(ctx context.Context, runID string) (*storage.RunStatus, error) {
	if r.tracker == nil {
		return nil, storage.ErrNotFound
	}
	return r.tracker.Get(ctx, runID)
}

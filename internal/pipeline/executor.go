package pipeline

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/artifact"
	"agent-team-go/internal/tracing"
)

const tracerName = "agent-team-go/pipeline"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Executor 按顺序执行阶段列表，把已完成阶段的输出累积到 RunContext 传给后续阶段
// Executor 本身无可变状态，多个运行可以并发调用 Run
type Executor struct {
	name     string
	stages   []StageSpec
	observer Observer
	retry    *RetryController
	parser   *artifact.Parser
	tracer   trace.Tracer
	newID    func() string
}

// Option Executor 选项
type Option func(*Executor)

// WithObserver 设置尝试观察者
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithName 设置流水线名称（用于追踪和日志）
func WithName(name string) Option {
	return func(e *Executor) {
		e.name = name
	}
}

// WithRunIDGenerator 自定义运行ID生成
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewExecutor 创建执行器并校验阶段定义
func NewExecutor(stages []StageSpec, opts ...Option) (*Executor, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个阶段", ErrInvalidPipeline)
	}
	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: 第%d个阶段缺少名称", ErrInvalidPipeline, i)
		}
		if s.Invoker == nil {
			return nil, fmt.Errorf("%w: 阶段 %s 缺少调用函数", ErrInvalidPipeline, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%w: 阶段名称重复 %s", ErrInvalidPipeline, s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	e := &Executor{
		name:     "pipeline",
		stages:   append([]StageSpec(nil), stages...),
		observer: nopObserver{},
		parser:   artifact.NewParser(),
		tracer:   tracer(),
		newID:    newRunID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retry = NewRetryController(e.observer)
	return e, nil
}

// Stages 返回阶段名称列表
func (e *Executor) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Run 执行一次完整运行
// 失败时返回 *RunError 以及截至失败前的上下文；取消只在阶段之间检查
func (e *Executor) Run(ctx context.Context, req Request) (*RunContext, error) {
	rc := newRunContext(e.newID(), req)

	ctx, span := e.tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.name", e.name),
			attribute.String("pipeline.run_id", rc.runID),
			attribute.Int("pipeline.stages", len(e.stages)),
		))
	defer span.End()

	stageObserver, _ := e.observer.(StageObserver)

	for i, spec := range e.stages {
		if err := ctx.Err(); err != nil {
			runErr := &RunError{RunID: rc.runID, Stage: spec.Name, StageIndex: i, Err: err}
			tracing.RecordError(span, runErr, tracing.ErrorTypePipeline)
			return rc, runErr
		}

		if stageObserver != nil {
			stageObserver.OnStageStart(spec.Name, i)
		}

		out, err := e.runStage(ctx, spec, rc)

		if stageObserver != nil {
			stageObserver.OnStageDone(spec.Name, i, err)
		}
		if err != nil {
			runErr := newRunError(rc.runID, i, spec.Name, err)
			tracing.RecordError(span, runErr, tracing.ErrorTypePipeline)
			return rc, runErr
		}
		rc.append(out)
	}

	span.SetStatus(codes.Ok, "")
	return rc, nil
}

func (e *Executor) runStage(ctx context.Context, spec StageSpec, rc *RunContext) (StageOutput, error) {
	if spec.HasContract() {
		return e.retry.Run(ctx, spec, rc)
	}

	// 无约定的阶段直接调用，原样保存文本
	text, err := spec.Invoker.Invoke(ctx, rc, DirectiveNormal)
	if err != nil {
		e.observer.OnAttempt(spec.Name, 1, false, nil)
		return StageOutput{}, &StageFailure{Stage: spec.Name, Attempt: 1, Cause: err}
	}
	out := StageOutput{Stage: spec.Name, Attempt: 1, Text: text}

	if spec.ExpectArtifacts {
		set, perr := e.parser.Parse(text)
		if perr != nil {
			e.observer.OnAttempt(spec.Name, 1, false, nil)
			return StageOutput{}, &ParseEmpty{Stage: spec.Name, Attempt: 1}
		}
		out.Artifacts = set
	}
	e.observer.OnAttempt(spec.Name, 1, true, nil)
	return out, nil
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

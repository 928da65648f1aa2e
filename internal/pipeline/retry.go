package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/artifact"
	"agent-team-go/internal/tracing"
)

// RetryController 包装一次阶段调用：解析、校验，不满足约定时以严格指令重新调用
// 状态（尝试次数）只存在于单次 Run 调用内部
type RetryController struct {
	parser   *artifact.Parser
	observer Observer
	tracer   trace.Tracer
}

// NewRetryController 创建重试控制器，observer 可以为 nil
func NewRetryController(observer Observer) *RetryController {
	if observer == nil {
		observer = nopObserver{}
	}
	return &RetryController{
		parser:   artifact.NewParser(),
		observer: observer,
		tracer:   tracer(),
	}
}

// Run 执行带约定的阶段，直到校验通过或调用次数达到上限
// 调用本身的错误不在这里重试，记录这次尝试后直接作为 StageFailure 返回
func (c *RetryController) Run(ctx context.Context, spec StageSpec, rc *RunContext) (StageOutput, error) {
	maxAttempts := spec.attempts()
	var missing []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		directive := DirectiveNormal
		if attempt > 1 {
			directive = DirectiveStrict
		}

		out, passed, miss, err := c.attempt(ctx, spec, rc, attempt, directive)
		if err != nil {
			c.observer.OnAttempt(spec.Name, attempt, false, nil)
			return StageOutput{}, err
		}
		c.observer.OnAttempt(spec.Name, attempt, passed, miss)
		if passed {
			return out, nil
		}
		missing = miss
	}

	return StageOutput{}, &ValidationExhausted{
		Stage:    spec.Name,
		Missing:  missing,
		Attempts: maxAttempts,
	}
}

func (c *RetryController) attempt(ctx context.Context, spec StageSpec, rc *RunContext, attempt int, directive Directive) (StageOutput, bool, []string, error) {
	ctx, span := c.tracer.Start(ctx, "Pipeline.StageAttempt",
		trace.WithAttributes(
			attribute.String("pipeline.stage", spec.Name),
			attribute.Int("pipeline.attempt", attempt),
			attribute.String("pipeline.directive", directive.String()),
		))
	defer span.End()

	text, err := spec.Invoker.Invoke(ctx, rc, directive)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return StageOutput{}, false, nil, &StageFailure{Stage: spec.Name, Attempt: attempt, Cause: err}
	}

	out := StageOutput{Stage: spec.Name, Attempt: attempt, Text: text}
	span.SetAttributes(attribute.Int("pipeline.output_length", len(text)))

	set, perr := c.parser.Parse(text)
	if perr != nil {
		if !errors.Is(perr, artifact.ErrNoArtifacts) {
			return StageOutput{}, false, nil, perr
		}
		// 解析为空按全部缺失处理
		missing := append([]string(nil), spec.Contract...)
		span.AddEvent("parse_empty")
		return out, false, missing, nil
	}

	out.Artifacts = set
	passed, missing := Check(spec.Contract, set)
	span.SetAttributes(
		attribute.Int("pipeline.artifacts", set.Len()),
		attribute.Bool("pipeline.passed", passed),
	)
	if !passed {
		span.SetAttributes(attribute.StringSlice("pipeline.missing", missing))
	}
	return out, passed, missing, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-team-go/internal/artifact"
)

const fence = "```"

func fileBlock(name, content string) string {
	return fmt.Sprintf("=== FILE: %s ===\n%s\n%s\n%s\n", name, fence, content, fence)
}

// scriptedInvoker 按顺序返回预设输出并记录调用
type scriptedInvoker struct {
	mu         sync.Mutex
	outputs    []string
	calls      int
	directives []Directive
	seen       []int // 每次调用时上下文中已有的阶段数
}

func (s *scriptedInvoker) Invoke(_ context.Context, rc *RunContext, d Directive) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directives = append(s.directives, d)
	s.seen = append(s.seen, rc.Len())
	i := s.calls
	s.calls++
	if i >= len(s.outputs) {
		return s.outputs[len(s.outputs)-1], nil
	}
	return s.outputs[i], nil
}

type attemptEvent struct {
	stage   string
	attempt int
	passed  bool
	missing []string
}

type recorder struct {
	mu     sync.Mutex
	events []attemptEvent
	starts []string
	dones  []string
}

func (r *recorder) OnAttempt(stage string, attempt int, passed bool, missing []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, attemptEvent{stage, attempt, passed, missing})
}

func (r *recorder) OnStageStart(stage string, _ int) { r.starts = append(r.starts, stage) }

func (r *recorder) OnStageDone(stage string, _ int, _ error) { r.dones = append(r.dones, stage) }

func TestRetryController_ExhaustsAfterMaxAttempts(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{fileBlock("main.py", "print(1)")}}
	rec := &recorder{}
	rc := NewRetryController(rec)

	spec := StageSpec{
		Name:        "code_generator",
		Invoker:     inv,
		Contract:    []string{"main.py", "README.md", "requirements.txt"},
		MaxAttempts: 3,
	}
	_, err := rc.Run(context.Background(), spec, NewRunContextForTest(NewRequest("goal", nil)))

	require.Error(t, err)
	var exhausted *ValidationExhausted
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "code_generator", exhausted.Stage)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []string{"README.md", "requirements.txt"}, exhausted.Missing)
	assert.ErrorIs(t, err, ErrValidationExhausted)

	assert.Equal(t, 3, inv.calls, "调用次数应等于 MaxAttempts")
	assert.Equal(t, []Directive{DirectiveNormal, DirectiveStrict, DirectiveStrict}, inv.directives)
	require.Len(t, rec.events, 3)
	for i, ev := range rec.events {
		assert.Equal(t, i+1, ev.attempt)
		assert.False(t, ev.passed)
	}
}

func TestRetryController_SucceedsOnSecondAttempt(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{
		"Sure! Let me know if you want the files.",
		fileBlock("main.py", "print(1)") + fileBlock("README.md", "# readme"),
	}}
	rec := &recorder{}
	rc := NewRetryController(rec)

	spec := StageSpec{Name: "gen", Invoker: inv, Contract: []string{"main.py", "README.md"}}
	out, err := rc.Run(context.Background(), spec, NewRunContextForTest(NewRequest("", nil)))

	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
	assert.Equal(t, 2, out.Attempt)
	content, ok := out.Artifacts.Get("README.md")
	assert.True(t, ok)
	assert.Equal(t, "# readme", content)

	require.Len(t, rec.events, 2)
	assert.Equal(t, attemptEvent{"gen", 1, false, []string{"main.py", "README.md"}}, rec.events[0])
	assert.Equal(t, attemptEvent{"gen", 2, true, nil}, rec.events[1])
}

func TestRetryController_DefaultBound(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{"nothing"}}
	spec := StageSpec{Name: "s", Invoker: inv, Contract: []string{"a"}}

	_, err := NewRetryController(nil).Run(context.Background(), spec, NewRunContextForTest(NewRequest("", nil)))
	var exhausted *ValidationExhausted
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, DefaultMaxAttempts, inv.calls)
	assert.Equal(t, []string{"a"}, exhausted.Missing)
}

func TestRetryController_InvocationErrorIsNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("quota exceeded")
	spec := StageSpec{
		Name: "s",
		Invoker: InvokerFunc(func(context.Context, *RunContext, Directive) (string, error) {
			calls++
			return "", boom
		}),
		Contract:    []string{"a"},
		MaxAttempts: 5,
	}
	rec := &recorder{}
	_, err := NewRetryController(rec).Run(context.Background(), spec, NewRunContextForTest(NewRequest("", nil)))

	var failure *StageFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []attemptEvent{{stage: "s", attempt: 1, passed: false}}, rec.events)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrStageFailed)
}

func TestExecutor_RunsStagesInOrderWithContext(t *testing.T) {
	var order []string
	stage := func(name string, text string) StageSpec {
		return StageSpec{
			Name: name,
			Invoker: InvokerFunc(func(_ context.Context, rc *RunContext, _ Directive) (string, error) {
				order = append(order, name)
				// 每个阶段都能看到之前所有阶段的输出
				var prev []string
				for _, out := range rc.Outputs() {
					prev = append(prev, out.Stage)
				}
				return text + "<-" + strings.Join(prev, ","), nil
			}),
		}
	}

	exec, err := NewExecutor([]StageSpec{stage("research", "r"), stage("news", "n"), stage("writer", "w")})
	require.NoError(t, err)

	rc, err := exec.Run(context.Background(), NewRequest("write a post", map[string]string{"model": "qwen"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"research", "news", "writer"}, order)
	assert.Equal(t, "r<-", rc.Text("research"))
	assert.Equal(t, "n<-research", rc.Text("news"))
	assert.Equal(t, "w<-research,news", rc.Text("writer"))
	assert.Equal(t, "write a post", rc.Request().Goal())
	model, _ := rc.Request().Option("model")
	assert.Equal(t, "qwen", model)
	assert.NotEmpty(t, rc.RunID())

	out, ok := rc.Output("news")
	require.True(t, ok)
	assert.Nil(t, out.Artifacts, "无约定阶段不做解析")
}

func TestExecutor_ContractStageRetriesThenNextStageSeesValidatedOutput(t *testing.T) {
	gen := &scriptedInvoker{outputs: []string{
		fileBlock("main.py", "v1"),
		fileBlock("main.py", "v2") + fileBlock("README.md", "doc"),
	}}
	var seenMain string
	check := InvokerFunc(func(_ context.Context, rc *RunContext, _ Directive) (string, error) {
		seenMain, _ = rc.Artifact("main.py")
		return "ok", nil
	})

	rec := &recorder{}
	exec, err := NewExecutor([]StageSpec{
		{Name: "gen", Invoker: gen, Contract: []string{"main.py", "README.md"}},
		{Name: "check", Invoker: check},
	}, WithObserver(rec))
	require.NoError(t, err)

	rc, err := exec.Run(context.Background(), NewRequest("", nil))
	require.NoError(t, err)
	assert.Equal(t, "v2", seenMain)
	assert.Equal(t, 2, rc.Len())
	assert.Equal(t, []string{"gen", "check"}, rec.starts)
	assert.Equal(t, []string{"gen", "check"}, rec.dones)
	assert.Len(t, rc.Artifacts(), 2)
}

func TestExecutor_StopsAtExhaustedStage(t *testing.T) {
	later := &scriptedInvoker{outputs: []string{"never"}}
	exec, err := NewExecutor([]StageSpec{
		{Name: "first", Invoker: &scriptedInvoker{outputs: []string{"ok"}}},
		{Name: "gen", Invoker: &scriptedInvoker{outputs: []string{fileBlock("main.py", "x")}}, Contract: []string{"main.py", ".env.example"}, MaxAttempts: 2},
		{Name: "after", Invoker: later},
	}, WithRunIDGenerator(func() string { return "run-1" }))
	require.NoError(t, err)

	rc, err := exec.Run(context.Background(), NewRequest("", nil))
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "run-1", runErr.RunID)
	assert.Equal(t, "gen", runErr.Stage)
	assert.Equal(t, 1, runErr.StageIndex)
	assert.Equal(t, 2, runErr.Attempts)
	assert.Equal(t, []string{".env.example"}, runErr.Missing)
	assert.ErrorIs(t, err, ErrValidationExhausted)
	assert.Contains(t, err.Error(), ".env.example")

	assert.Equal(t, 0, later.calls, "失败后不再执行后续阶段")
	assert.Equal(t, 1, rc.Len(), "返回截至失败前的上下文")
}

func TestExecutor_StageFailurePropagates(t *testing.T) {
	boom := errors.New("connection reset")
	rec := &recorder{}
	exec, err := NewExecutor([]StageSpec{
		{Name: "a", Invoker: InvokerFunc(func(context.Context, *RunContext, Directive) (string, error) { return "", boom })},
		{Name: "b", Invoker: &scriptedInvoker{outputs: []string{"x"}}},
	}, WithObserver(rec))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), NewRequest("", nil))
	var failure *StageFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "a", failure.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []attemptEvent{{stage: "a", attempt: 1, passed: false}}, rec.events)
}

func TestExecutor_TimedOutContractAttemptIsObserved(t *testing.T) {
	rec := &recorder{}
	exec, err := NewExecutor([]StageSpec{{
		Name: "s",
		Invoker: InvokerFunc(func(context.Context, *RunContext, Directive) (string, error) {
			return "", context.DeadlineExceeded
		}),
		Contract: []string{"a"},
	}}, WithObserver(rec))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), NewRequest("", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []attemptEvent{{stage: "s", attempt: 1, passed: false}}, rec.events)
}

func TestExecutor_ExpectArtifactsWithoutContract(t *testing.T) {
	exec, err := NewExecutor([]StageSpec{
		{Name: "structured", Invoker: &scriptedInvoker{outputs: []string{"plain text"}}, ExpectArtifacts: true},
	})
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), NewRequest("", nil))
	var empty *ParseEmpty
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "structured", empty.Stage)
	assert.ErrorIs(t, err, ErrParseEmpty)
}

func TestExecutor_CancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	second := &scriptedInvoker{outputs: []string{"x"}}
	exec, err := NewExecutor([]StageSpec{
		{Name: "first", Invoker: InvokerFunc(func(context.Context, *RunContext, Directive) (string, error) {
			cancel() // 进行中的调用不被打断，下一阶段前检查
			return "done", nil
		})},
		{Name: "second", Invoker: second},
	})
	require.NoError(t, err)

	rc, err := exec.Run(ctx, NewRequest("", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "done", rc.Text("first"))
	assert.Equal(t, 0, second.calls)
}

func TestNewExecutor_Validation(t *testing.T) {
	inv := &scriptedInvoker{outputs: []string{"x"}}
	cases := map[string][]StageSpec{
		"空列表":  nil,
		"缺少名称": {{Invoker: inv}},
		"缺少调用": {{Name: "a"}},
		"名称重复": {{Name: "a", Invoker: inv}, {Name: "a", Invoker: inv}},
	}
	for name, stages := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewExecutor(stages)
			assert.ErrorIs(t, err, ErrInvalidPipeline)
		})
	}
}

func TestExecutor_IndependentRunsConcurrently(t *testing.T) {
	echo := InvokerFunc(func(_ context.Context, rc *RunContext, _ Directive) (string, error) {
		return fileBlock("echo.txt", rc.Request().Goal()), nil
	})
	exec, err := NewExecutor([]StageSpec{{Name: "echo", Invoker: echo, Contract: []string{"echo.txt"}}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := exec.Run(context.Background(), NewRequest(fmt.Sprintf("goal-%d", i), nil))
			if err == nil {
				results[i], _ = rc.Artifact("echo.txt")
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("goal-%d", i), got)
	}
}

func TestCheck(t *testing.T) {
	set, err := artifact.Parse(fileBlock("a", "1") + fileBlock("extra", "2"))
	require.NoError(t, err)

	passed, missing := Check([]string{"a"}, set)
	assert.True(t, passed, "多余的产物不影响校验")
	assert.Empty(t, missing)

	passed, missing = Check([]string{"b", "a", "c"}, set)
	assert.False(t, passed)
	assert.Equal(t, []string{"b", "c"}, missing)

	_, missing = Check([]string{"a"}, nil)
	assert.Equal(t, []string{"a"}, missing)
}

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "NORMAL", DirectiveNormal.String())
	assert.Equal(t, "STRICT", DirectiveStrict.String())
	assert.Equal(t, "Directive(7)", Directive(7).String())
}

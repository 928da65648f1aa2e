package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// 定义基础错误类型
var (
	ErrStageFailed         = errors.New("阶段调用失败")
	ErrParseEmpty          = errors.New("阶段输出中没有产物")
	ErrValidationExhausted = errors.New("重试耗尽仍未满足产物约定")
	ErrInvalidPipeline     = errors.New("流水线定义无效")
)

// StageFailure 外部调用本身失败（网络、配额、超时等），对本次运行是致命的
type StageFailure struct {
	Stage   string
	Attempt int
	Cause   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s (阶段:%s, 第%d次): %v", ErrStageFailed, e.Stage, e.Attempt, e.Cause)
}

func (e *StageFailure) Unwrap() []error {
	return []error{ErrStageFailed, e.Cause}
}

// ParseEmpty 阶段输出解析不到任何产物
type ParseEmpty struct {
	Stage   string
	Attempt int
}

func (e *ParseEmpty) Error() string {
	return fmt.Sprintf("%s (阶段:%s, 第%d次)", ErrParseEmpty, e.Stage, e.Attempt)
}

func (e *ParseEmpty) Unwrap() error {
	return ErrParseEmpty
}

// ValidationExhausted 达到调用上限仍缺少约定的产物
type ValidationExhausted struct {
	Stage    string
	Missing  []string
	Attempts int
}

func (e *ValidationExhausted) Error() string {
	return fmt.Sprintf("%s (阶段:%s, 尝试%d次, 缺少:[%s])",
		ErrValidationExhausted, e.Stage, e.Attempts, strings.Join(e.Missing, ", "))
}

func (e *ValidationExhausted) Unwrap() error {
	return ErrValidationExhausted
}

// RunError 运行失败时的汇总错误，给出最远到达的阶段、失败阶段的尝试次数和缺失产物
type RunError struct {
	RunID      string
	Stage      string // 失败的阶段，即最远到达的阶段
	StageIndex int    // 从0开始
	Attempts   int
	Missing    []string
	Err        error
}

func (e *RunError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "流水线运行失败 (运行:%s, 阶段:%d:%s, 尝试:%d", e.RunID, e.StageIndex, e.Stage, e.Attempts)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, ", 缺少:[%s]", strings.Join(e.Missing, ", "))
	}
	fmt.Fprintf(&sb, "): %v", e.Err)
	return sb.String()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// newRunError 从阶段错误中提取诊断信息
func newRunError(runID string, index int, stage string, err error) *RunError {
	re := &RunError{RunID: runID, Stage: stage, StageIndex: index, Err: err}

	var exhausted *ValidationExhausted
	var failure *StageFailure
	var empty *ParseEmpty
	switch {
	case errors.As(err, &exhausted):
		re.Attempts = exhausted.Attempts
		re.Missing = exhausted.Missing
	case errors.As(err, &failure):
		re.Attempts = failure.Attempt
	case errors.As(err, &empty):
		re.Attempts = empty.Attempt
	}
	return re
}

package pipeline

import "agent-team-go/internal/artifact"

// RunContext 单次运行的累积上下文，按插入顺序保存每个阶段通过校验的输出
// 只由 Executor 写入；传给阶段的是同一个实例，阶段只能通过读方法访问
type RunContext struct {
	runID   string
	request Request
	outputs []StageOutput
	index   map[string]int
}

func newRunContext(runID string, req Request) *RunContext {
	return &RunContext{
		runID:   runID,
		request: req,
		index:   make(map[string]int),
	}
}

// NewRunContextForTest 供阶段实现的测试构造上下文
func NewRunContextForTest(req Request, outputs ...StageOutput) *RunContext {
	rc := newRunContext("test", req)
	for _, out := range outputs {
		rc.append(out)
	}
	return rc
}

func (rc *RunContext) append(out StageOutput) {
	rc.index[out.Stage] = len(rc.outputs)
	rc.outputs = append(rc.outputs, out)
}

// RunID 运行ID
func (rc *RunContext) RunID() string { return rc.runID }

// Request 运行请求
func (rc *RunContext) Request() Request { return rc.request }

// Outputs 已完成阶段的输出（按执行顺序）
func (rc *RunContext) Outputs() []StageOutput {
	out := make([]StageOutput, len(rc.outputs))
	copy(out, rc.outputs)
	return out
}

// Len 已完成阶段数
func (rc *RunContext) Len() int { return len(rc.outputs) }

// Output 按阶段名获取输出
func (rc *RunContext) Output(stage string) (StageOutput, bool) {
	i, ok := rc.index[stage]
	if !ok {
		return StageOutput{}, false
	}
	return rc.outputs[i], true
}

// Text 按阶段名获取原始文本，不存在时返回空串
func (rc *RunContext) Text(stage string) string {
	out, _ := rc.Output(stage)
	return out.Text
}

// Artifact 在所有阶段中查找产物，后面阶段的同名产物优先
func (rc *RunContext) Artifact(name string) (string, bool) {
	for i := len(rc.outputs) - 1; i >= 0; i-- {
		if content, ok := rc.outputs[i].Artifacts.Get(name); ok {
			return content, true
		}
	}
	return "", false
}

// Artifacts 汇总所有阶段的产物，同名时后者覆盖
func (rc *RunContext) Artifacts() []artifact.Artifact {
	seen := make(map[string]int)
	var list []artifact.Artifact
	for _, out := range rc.outputs {
		for _, a := range out.Artifacts.Artifacts() {
			if i, ok := seen[a.Name]; ok {
				list[i] = a
				continue
			}
			seen[a.Name] = len(list)
			list = append(list, a)
		}
	}
	return list
}

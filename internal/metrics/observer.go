package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"agent-team-go/internal/pipeline"
)

// PipelineObserver 把阶段尝试和阶段结果写入 prometheus
type PipelineObserver struct {
	team string
}

// NewPipelineObserver team 作为 team 标签
func NewPipelineObserver(team string) *PipelineObserver {
	return &PipelineObserver{team: team}
}

// OnAttempt 实现 pipeline.Observer
func (o *PipelineObserver) OnAttempt(stage string, _ int, passed bool, _ []string) {
	result := "passed"
	if !passed {
		result = "rejected"
	}
	stageAttemptsMetric.With(prometheus.Labels{teamLabel: o.team, stageLabel: stage, resultLabel: result}).Inc()
}

// OnStageStart 实现 pipeline.StageObserver
func (o *PipelineObserver) OnStageStart(string, int) {}

// OnStageDone 实现 pipeline.StageObserver
func (o *PipelineObserver) OnStageDone(stage string, _ int, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	stageResultsMetric.With(prometheus.Labels{teamLabel: o.team, stageLabel: stage, statusLabel: status}).Inc()
}

var (
	_ pipeline.Observer      = (*PipelineObserver)(nil)
	_ pipeline.StageObserver = (*PipelineObserver)(nil)
)

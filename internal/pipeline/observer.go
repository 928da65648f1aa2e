package pipeline

import (
	"github.com/rs/zerolog"
)

// Observer 每次阶段尝试结束后收到通知，用于日志和指标
type Observer interface {
	OnAttempt(stage string, attempt int, passed bool, missing []string)
}

// StageObserver 可选接口，关心阶段开始和结束的观察者实现它
type StageObserver interface {
	OnStageStart(stage string, index int)
	OnStageDone(stage string, index int, err error)
}

// ObserverFunc 函数适配器
type ObserverFunc func(stage string, attempt int, passed bool, missing []string)

// OnAttempt 实现 Observer
func (f ObserverFunc) OnAttempt(stage string, attempt int, passed bool, missing []string) {
	f(stage, attempt, passed, missing)
}

// MultiObserver 依次通知多个观察者
type MultiObserver []Observer

// OnAttempt 实现 Observer
func (m MultiObserver) OnAttempt(stage string, attempt int, passed bool, missing []string) {
	for _, o := range m {
		if o != nil {
			o.OnAttempt(stage, attempt, passed, missing)
		}
	}
}

// OnStageStart 转发给实现了 StageObserver 的成员
func (m MultiObserver) OnStageStart(stage string, index int) {
	for _, o := range m {
		if so, ok := o.(StageObserver); ok {
			so.OnStageStart(stage, index)
		}
	}
}

// OnStageDone 转发给实现了 StageObserver 的成员
func (m MultiObserver) OnStageDone(stage string, index int, err error) {
	for _, o := range m {
		if so, ok := o.(StageObserver); ok {
			so.OnStageDone(stage, index, err)
		}
	}
}

// LogObserver 使用 zerolog 记录每次尝试
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver 创建日志观察者
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// OnAttempt 实现 Observer
func (l *LogObserver) OnAttempt(stage string, attempt int, passed bool, missing []string) {
	if passed {
		l.logger.Info().Str("stage", stage).Int("attempt", attempt).Msg("阶段输出校验通过")
		return
	}
	if len(missing) == 0 {
		l.logger.Warn().Str("stage", stage).Int("attempt", attempt).Msg("阶段尝试失败")
		return
	}
	l.logger.Warn().Str("stage", stage).Int("attempt", attempt).Strs("missing", missing).Msg("阶段输出缺少约定产物")
}

// OnStageStart 实现 StageObserver
func (l *LogObserver) OnStageStart(stage string, index int) {
	l.logger.Debug().Str("stage", stage).Int("index", index).Msg("开始执行阶段")
}

// OnStageDone 实现 StageObserver
func (l *LogObserver) OnStageDone(stage string, index int, err error) {
	if err != nil {
		l.logger.Error().Err(err).Str("stage", stage).Int("index", index).Msg("阶段执行失败")
		return
	}
	l.logger.Info().Str("stage", stage).Int("index", index).Msg("阶段执行完成")
}

type nopObserver struct{}

func (nopObserver) OnAttempt(string, int, bool, []string) {}

package constants

import "time"

const (
	// DefaultOutputDir 本地产物输出根目录
	DefaultOutputDir = "outputs"
	// ScreeningResultsDir 筛选结果子目录
	ScreeningResultsDir = "screening_results"
	// DefaultPackageName 需求中没有名称时使用
	DefaultPackageName = "generated_agent"

	// DefaultKnowledgeURL 智能体构建团队默认加载的文档
	DefaultKnowledgeURL = "https://docs.agno.com/llms-full.txt"

	// BlogSessionID 技术博客团队的会话
	BlogSessionID = "blog_writer_session"
	// DefaultHistoryRuns 会话中保留的运行次数
	DefaultHistoryRuns = 3

	// DefaultCandidatePause 顺序筛选时候选人之间的间隔
	DefaultCandidatePause = time.Second

	BatchLockTTL = 30 * time.Minute
)

package constants

// Redis Key 统一格式: app:{module}:{entity}:{unique_id}
const (
	AppPrefix = "app"

	RunModulePrefix     = "run"
	SessionModulePrefix = "session"
	BatchModulePrefix   = "batch"

	EntityStatus  = "status"
	EntityHistory = "history"
	EntityLock    = "lock"

	// KeyRunStatus 运行状态 (HASH)
	// 格式: app:run:status:{runID}
	KeyRunStatus = AppPrefix + ":" + RunModulePrefix + ":" + EntityStatus + ":%s"

	// KeySessionHistory 团队会话历史 (LIST)
	// 格式: app:session:history:{sessionID}
	KeySessionHistory = AppPrefix + ":" + SessionModulePrefix + ":" + EntityHistory + ":%s"

	// KeyBatchLock 同一批次筛选的分布式锁 (STRING)
	// 格式: app:batch:lock:{batchID}
	KeyBatchLock = AppPrefix + ":" + BatchModulePrefix + ":" + EntityLock + ":%s"
)

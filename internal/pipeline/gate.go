package pipeline

import "agent-team-go/internal/artifact"

// Check 校验解析结果是否包含约定的全部产物，多余的产物不算错误
// 返回缺失的名称（按约定顺序）
func Check(contract []string, set *artifact.Set) (bool, []string) {
	var missing []string
	for _, name := range contract {
		if !set.Has(name) {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

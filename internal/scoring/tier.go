package scoring

// Tier 推荐等级
type Tier string

const (
	TierStrongYes Tier = "STRONG_YES"
	TierYes       Tier = "YES"
	TierMaybe     Tier = "MAYBE"
	TierNo        Tier = "NO"
)

// 阈值从高到低，下界包含
var tierThresholds = []struct {
	min  float64
	tier Tier
}{
	{85, TierStrongYes},
	{70, TierYes},
	{55, TierMaybe},
}

// TierFor 根据分数返回推荐等级
func TierFor(score float64) Tier {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return TierNo
}

// Valid 是否为已知等级
func (t Tier) Valid() bool {
	switch t {
	case TierStrongYes, TierYes, TierMaybe, TierNo:
		return true
	}
	return false
}

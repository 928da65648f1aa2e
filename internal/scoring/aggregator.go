package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// WeightEpsilon 权重之和与1的允许误差
const WeightEpsilon = 1e-6

// 浮点误差补偿，避免 84.99999999997 被截断为 84
const truncationSlack = 1e-9

const (
	ComponentSkills     = "skills"
	ComponentExperience = "experience"
	ComponentEducation  = "education"
	ComponentBonus      = "bonus"
)

var (
	ErrInvalidWeights   = errors.New("评分权重配置无效")
	ErrMissingComponent = errors.New("缺少评分项")
	ErrUnknownComponent = errors.New("未知评分项")
	ErrValueOutOfRange  = errors.New("评分项取值超出范围")
)

// InvalidWeights 权重之和不为1
type InvalidWeights struct {
	Sum float64
}

func (e *InvalidWeights) Error() string {
	return fmt.Sprintf("%s: 权重之和为 %.6f，应为 1.0", ErrInvalidWeights, e.Sum)
}

func (e *InvalidWeights) Unwrap() error {
	return ErrInvalidWeights
}

// Weight 评分项及其权重
type Weight struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// DefaultWeights 候选人筛选默认权重：技能40%，经验35%，教育15%，加分项10%
func DefaultWeights() []Weight {
	return []Weight{
		{Name: ComponentSkills, Weight: 0.40},
		{Name: ComponentExperience, Weight: 0.35},
		{Name: ComponentEducation, Weight: 0.15},
		{Name: ComponentBonus, Weight: 0.10},
	}
}

// Component 单个评分项，取值范围 [0,100]
type Component struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// ScreeningResult 综合评分结果，创建后不再修改
type ScreeningResult struct {
	CompositeScore int         `json:"composite_score"`
	RawScore       float64     `json:"raw_score"`
	Tier           Tier        `json:"tier"`
	Components     []Component `json:"components"`
}

// Aggregator 加权评分聚合器，权重在构造时校验一次
type Aggregator struct {
	weights []Weight
	index   map[string]float64
}

// NewAggregator 创建聚合器；权重之和偏离1超过 WeightEpsilon 时返回 *InvalidWeights
func NewAggregator(weights []Weight) (*Aggregator, error) {
	if len(weights) == 0 {
		return nil, &InvalidWeights{Sum: 0}
	}
	index := make(map[string]float64, len(weights))
	var sum float64
	for _, w := range weights {
		if w.Name == "" {
			return nil, fmt.Errorf("%w: 评分项名称为空", ErrInvalidWeights)
		}
		if _, dup := index[w.Name]; dup {
			return nil, fmt.Errorf("%w: 评分项 %s 重复", ErrInvalidWeights, w.Name)
		}
		if w.Weight < 0 || math.IsNaN(w.Weight) {
			return nil, fmt.Errorf("%w: 评分项 %s 权重为负", ErrInvalidWeights, w.Name)
		}
		index[w.Name] = w.Weight
		sum += w.Weight
	}
	if math.Abs(sum-1.0) > WeightEpsilon {
		return nil, &InvalidWeights{Sum: sum}
	}
	return &Aggregator{weights: append([]Weight(nil), weights...), index: index}, nil
}

// MustDefault 使用默认权重创建聚合器
func MustDefault() *Aggregator {
	a, err := NewAggregator(DefaultWeights())
	if err != nil {
		panic(err)
	}
	return a
}

// Weights 返回权重副本
func (a *Aggregator) Weights() []Weight {
	return append([]Weight(nil), a.weights...)
}

// Score 计算综合分和推荐等级；任一评分项缺失或越界时不返回部分结果
func (a *Aggregator) Score(values map[string]float64) (ScreeningResult, error) {
	var unknown []string
	for name := range values {
		if _, ok := a.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ScreeningResult{}, fmt.Errorf("%w: %v", ErrUnknownComponent, unknown)
	}

	components := make([]Component, 0, len(a.weights))
	var raw float64
	for _, w := range a.weights {
		v, ok := values[w.Name]
		if !ok {
			return ScreeningResult{}, fmt.Errorf("%w: %s", ErrMissingComponent, w.Name)
		}
		if math.IsNaN(v) || v < 0 || v > 100 {
			return ScreeningResult{}, fmt.Errorf("%w: %s=%v", ErrValueOutOfRange, w.Name, v)
		}
		components = append(components, Component{Name: w.Name, Value: v, Weight: w.Weight})
		raw += v * w.Weight
	}

	composite := Composite(raw)
	return ScreeningResult{
		CompositeScore: composite,
		RawScore:       raw,
		Tier:           TierFor(float64(composite)),
		Components:     components,
	}, nil
}

// Composite 将加权和截断为 [0,100] 内的整数
func Composite(raw float64) int {
	clamped := math.Max(0, math.Min(100, raw))
	return int(math.Min(100, math.Floor(clamped+truncationSlack)))
}

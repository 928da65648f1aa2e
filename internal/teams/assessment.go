package teams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"agent-team-go/internal/parser"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/scoring"
)

// ErrMissingArtifact 评分所需的上游产物不存在
var ErrMissingArtifact = errors.New("缺少评分所需的产物")

// Score 兼容模型输出的数字、数字字符串和百分比
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(str), "%"))
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("无法解析分数 %q", str)
		}
		*s = Score(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

// ParsedResume resume.json 中评分用到的字段
type ParsedResume struct {
	Name                 string   `json:"name"`
	Email                string   `json:"email"`
	Skills               []string `json:"skills"`
	TotalYearsExperience Score    `json:"total_years_experience"`
}

// SkillsMatch skills.json
type SkillsMatch struct {
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
	BonusSkills   []string `json:"bonus_skills"`
	Score         *Score   `json:"skills_match_score"`
}

// ExperienceEvaluation experience.json
type ExperienceEvaluation struct {
	RequiredYears  Score  `json:"required_years"`
	CandidateYears Score  `json:"candidate_years"`
	MeetsRequired  *bool  `json:"meets_experience_requirement"`
	SeniorityLevel string `json:"seniority_level"`
	Progression    string `json:"progression"`
	Score          *Score `json:"experience_score"`
}

// EducationEvaluation education.json
type EducationEvaluation struct {
	Score        *Score   `json:"education_score"`
	BonusScore   *Score   `json:"bonus_score"`
	BonusFactors []string `json:"bonus_factors"`
	Concerns     []string `json:"concerns"`
}

// Assessment 候选人的最终评估，即 assessment.json 的内容
type Assessment struct {
	CandidateName  string              `json:"candidate_name"`
	Email          string              `json:"email,omitempty"`
	FinalScore     int                 `json:"final_score"`
	RawScore       float64             `json:"raw_score"`
	Recommendation scoring.Tier        `json:"recommendation"`
	Components     []scoring.Component `json:"components"`
	SeniorityLevel string              `json:"seniority_level,omitempty"`
	MatchedSkills  []string            `json:"matched_skills,omitempty"`
	MissingSkills  []string            `json:"missing_skills,omitempty"`
	Strengths      []string            `json:"strengths,omitempty"`
	Concerns       []string            `json:"concerns,omitempty"`
	Summary        string              `json:"summary"`
}

// JSON 带缩进的序列化结果
func (a Assessment) JSON() (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化评估结果失败: %w", err)
	}
	return string(data), nil
}

func decodeArtifact(rc *pipeline.RunContext, name string, v any) error {
	content, ok := rc.Artifact(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingArtifact, name)
	}
	if err := parser.DecodeJSON(content, v); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", name, err)
	}
	return nil
}

func requireScore(name, field string, s *Score) (float64, error) {
	if s == nil {
		return 0, fmt.Errorf("%w: %s 缺少 %s", scoring.ErrMissingComponent, name, field)
	}
	return float64(*s), nil
}

// Assess 读取前四个阶段的 JSON 产物并计算综合评分
func Assess(rc *pipeline.RunContext, agg *scoring.Aggregator) (Assessment, error) {
	var (
		resume     ParsedResume
		skills     SkillsMatch
		experience ExperienceEvaluation
		education  EducationEvaluation
	)
	for _, item := range []struct {
		name string
		v    any
	}{
		{ArtifactResume, &resume},
		{ArtifactSkills, &skills},
		{ArtifactExperience, &experience},
		{ArtifactEducation, &education},
	} {
		if err := decodeArtifact(rc, item.name, item.v); err != nil {
			return Assessment{}, err
		}
	}

	values := make(map[string]float64, 4)
	var err error
	if values[scoring.ComponentSkills], err = requireScore(ArtifactSkills, "skills_match_score", skills.Score); err != nil {
		return Assessment{}, err
	}
	if values[scoring.ComponentExperience], err = requireScore(ArtifactExperience, "experience_score", experience.Score); err != nil {
		return Assessment{}, err
	}
	if values[scoring.ComponentEducation], err = requireScore(ArtifactEducation, "education_score", education.Score); err != nil {
		return Assessment{}, err
	}
	if values[scoring.ComponentBonus], err = requireScore(ArtifactEducation, "bonus_score", education.BonusScore); err != nil {
		return Assessment{}, err
	}

	result, err := agg.Score(values)
	if err != nil {
		return Assessment{}, err
	}

	name := strings.TrimSpace(resume.Name)
	if name == "" {
		name, _ = rc.Request().Option(OptionCandidate)
	}

	a := Assessment{
		CandidateName:  name,
		Email:          resume.Email,
		FinalScore:     result.CompositeScore,
		RawScore:       result.RawScore,
		Recommendation: result.Tier,
		Components:     result.Components,
		SeniorityLevel: experience.SeniorityLevel,
		MatchedSkills:  skills.MatchedSkills,
		MissingSkills:  skills.MissingSkills,
		Strengths:      strengths(skills, education),
		Concerns:       concerns(skills, experience, education),
	}
	a.Summary = fmt.Sprintf("%s 综合得分 %d，推荐等级 %s；匹配技能 %d 项，缺少必需技能 %d 项。",
		a.CandidateName, a.FinalScore, a.Recommendation, len(a.MatchedSkills), len(a.MissingSkills))
	return a, nil
}

func strengths(skills SkillsMatch, education EducationEvaluation) []string {
	var out []string
	if n := len(skills.MatchedSkills); n > 0 {
		top := skills.MatchedSkills
		if n > 5 {
			top = top[:5]
		}
		out = append(out, "掌握职位要求的技能: "+strings.Join(top, ", "))
	}
	if len(skills.BonusSkills) > 0 {
		out = append(out, "加分技能: "+strings.Join(skills.BonusSkills, ", "))
	}
	return append(out, education.BonusFactors...)
}

func concerns(skills SkillsMatch, experience ExperienceEvaluation, education EducationEvaluation) []string {
	var out []string
	if len(skills.MissingSkills) > 0 {
		out = append(out, "缺少技能: "+strings.Join(skills.MissingSkills, ", "))
	}
	if experience.MeetsRequired != nil && !*experience.MeetsRequired {
		out = append(out, fmt.Sprintf("工作年限 %.0f 年，低于要求的 %.0f 年", float64(experience.CandidateYears), float64(experience.RequiredYears)))
	}
	return append(out, education.Concerns...)
}

// AssessmentFromRun 从完成的运行中取出 assessment.json
func AssessmentFromRun(rc *pipeline.RunContext) (Assessment, error) {
	var a Assessment
	if err := decodeArtifact(rc, ArtifactAssessment, &a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

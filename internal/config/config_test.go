package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-team-go/internal/scoring"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "无法写入临时配置文件")
	return path
}

// TestLoadConfigOverridesDefaults 文件中的字段覆盖默认值，未出现的字段保留默认值
func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: "qwen-max"
  task_models:
    code_generator: "qwen-coder-plus"
pipeline:
  concurrency: 5
  max_attempts: 3
rabbitmq:
  consumer_workers:
    screening_workers: 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "加载配置不应返回错误")
	require.NotNil(t, cfg)

	assert.Equal(t, "qwen-max", cfg.LLM.Model)
	assert.Equal(t, "qwen-coder-plus", cfg.GetModelForTask("code_generator"))
	assert.Equal(t, "qwen-max", cfg.GetModelForTask("resume_parser"), "未配置专用模型时使用默认模型")
	assert.Equal(t, 5, cfg.Pipeline.Concurrency)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, map[string]int{"screening_workers": 4}, cfg.RabbitMQ.ConsumerWorkers)

	// 默认值保留
	assert.Equal(t, "outputs", cfg.Pipeline.OutputDir)
	assert.Equal(t, "text-embedding-v3", cfg.LLM.Embedding.Model)
	assert.Equal(t, scoring.DefaultWeights(), cfg.Scoring.Weights)
}

// TestLoadConfigEnvOverrides 环境变量优先
func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "llm:\n  api_key: from-file\n")
	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("AGENT_TEAM_API_KEYS", "k1,k2")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
}

// TestLoadConfigRejectsInvalidWeights 权重之和不为1时加载失败
func TestLoadConfigRejectsInvalidWeights(t *testing.T) {
	path := writeConfig(t, `
scoring:
  weights:
    - name: skills
      weight: 0.5
    - name: experience
      weight: 0.49
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, scoring.ErrInvalidWeights)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [unclosed")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestCreateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, CreateSampleConfig(path))
	assert.Error(t, CreateSampleConfig(path), "已存在的文件不会被覆盖")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, GetDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("bogus", time.Minute))
}

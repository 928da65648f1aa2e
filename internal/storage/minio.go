package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"

	"agent-team-go/internal/artifact"
	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
)

var _ artifact.Writer = (*MinIO)(nil)

// MinIO 保存智能体构建团队生成的代码包
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	log    zerolog.Logger
}

// NewMinIO 创建客户端，确保存储桶存在并设置过期规则
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, errors.New("MinIO配置不能为空")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	bucket := cfg.ArtifactsBucket
	if bucket == "" {
		bucket = "agent-packages"
	}
	m := &MinIO{client: client, cfg: cfg, bucket: bucket, log: logger.Component("minio")}

	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	if cfg.ArtifactExpireDays > 0 {
		if err := m.setupLifecycle(ctx, cfg.ArtifactExpireDays); err != nil {
			m.log.Warn().Err(err).Str("bucket", bucket).Msg("设置生命周期规则失败")
		}
	}
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 失败: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.log.Info().Str("bucket", m.bucket).Msg("已创建存储桶")
	return nil
}

func (m *MinIO) setupLifecycle(ctx context.Context, days int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:         "expire-agent-packages",
			Status:     "Enabled",
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, lc)
}

// Write 以 dir 为前缀逐个上传产物，单个失败不影响其余
func (m *MinIO) Write(ctx context.Context, dir string, artifacts []artifact.Artifact) (artifact.WriteReport, error) {
	prefix := strings.Trim(dir, "/")
	report := artifact.WriteReport{Location: fmt.Sprintf("s3://%s/%s", m.bucket, prefix)}

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := artifact.ValidateName(a.Name); err != nil {
			report.Failures = append(report.Failures, artifact.WriteFailure{Name: a.Name, Err: err})
			continue
		}
		object := path.Join(prefix, a.Name)
		_, err := m.client.PutObject(ctx, m.bucket, object, strings.NewReader(a.Content), int64(len(a.Content)),
			minio.PutObjectOptions{ContentType: contentTypeFor(a.Name)})
		if err != nil {
			report.Failures = append(report.Failures, artifact.WriteFailure{Name: a.Name, Err: err})
			continue
		}
		report.Written++
	}
	m.log.Info().Str("prefix", prefix).Int("written", report.Written).Int("failed", len(report.Failures)).Msg("产物已上传")
	return report, nil
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".py":
		return "text/x-python"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}

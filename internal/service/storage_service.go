package service

import (
	"context"
	"fmt"
	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/backoff"
	"homework_eval_backend/pkg/logger"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 对象存储：按 key 写入并返回可公开访问的 URL
type StorageProvider interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
	URL(key string) string
}

func joinURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

// LocalStorageProvider 本地磁盘存储，由 gin 静态路由 /uploads 对外提供
type LocalStorageProvider struct {
	Root    string
	BaseURL string
}

func NewLocalStorageProvider(cfg *config.StorageConfig) *LocalStorageProvider {
	return &LocalStorageProvider{
		Root:    cfg.LocalPath,
		BaseURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/uploads",
	}
}

func (p *LocalStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(p.Root, filepath.FromSlash(key))
	if !strings.HasPrefix(dst, filepath.Clean(p.Root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key %q escapes storage root", key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	// 先写临时文件再 rename，读者不会看到写了一半的对象
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	return p.URL(key), nil
}

func (p *LocalStorageProvider) URL(key string) string {
	return joinURL(p.BaseURL, key)
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

// EnsureBucket 启动时确认 bucket 存在，不存在则创建
func (p *MinioStorageProvider) EnsureBucket(ctx context.Context) error {
	return backoff.Retry(ctx, 4, 500*time.Millisecond, 5*time.Second, func(ctx context.Context) error {
		exists, err := p.Client.BucketExists(ctx, p.Config.MinioBucket)
		if err != nil {
			logger.Log.Warn("MinIO not reachable yet", zap.String("endpoint", p.Config.MinioEndpoint), zap.Error(err))
			return err
		}
		if exists {
			return nil
		}
		return p.Client.MakeBucket(ctx, p.Config.MinioBucket, minio.MakeBucketOptions{})
	})
}

func (p *MinioStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.URL(key), nil
}

func (p *MinioStorageProvider) URL(key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, key)
	}
	scheme := "http"
	if p.Config.MinioUseSSL {
		scheme = "https"
	}
	return joinURL(fmt.Sprintf("%s://%s/%s", scheme, p.Config.MinioEndpoint, p.Config.MinioBucket), key)
}

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Bucket *oss.Bucket
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Bucket: bucket}, nil
}

func (p *OSSStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	err := p.Bucket.PutObject(key, reader,
		oss.ContentType(contentType),
		oss.ContentLength(size),
		oss.WithContext(ctx),
	)
	if err != nil {
		return "", err
	}
	return p.URL(key), nil
}

func (p *OSSStorageProvider) URL(key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, key)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(p.Config.OSSEndpoint, "https://"), "http://")
	return joinURL(fmt.Sprintf("https://%s.%s", p.Config.OSSBucket, endpoint), key)
}

// NewStorageProvider 按配置创建存储后端；远端后端初始化失败直接返回错误
func NewStorageProvider(ctx context.Context, cfg *config.StorageConfig) (StorageProvider, error) {
	switch cfg.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("minio storage: %w", err)
		}
		if err := p.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket %s: %w", cfg.MinioBucket, err)
		}
		return p, nil
	case util.StorageOSS:
		p, err := NewOSSStorageProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("oss storage: %w", err)
		}
		return p, nil
	case util.StorageLocal, "":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, err
		}
		return NewLocalStorageProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

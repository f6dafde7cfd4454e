package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

// BuildObjectKey <student>/<homework>/<毫秒时间戳>_<内容摘要>_<文件名>
// 同一毫秒内同名文件也因内容摘要不同而不冲突
func BuildObjectKey(studentID, homeworkID string, at time.Time, filename string, data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%s/%s/%d_%s_%s",
		studentID,
		homeworkID,
		at.UnixMilli(),
		hex.EncodeToString(sum[:4]),
		util.SanitizeFilename(filename),
	)
}

// UploadService 把答案图片并发写入对象存储，返回与输入顺序一致的 URL
type UploadService struct {
	provider    StorageProvider
	concurrency int
	now         func() time.Time
}

func NewUploadService(provider StorageProvider, concurrency int) *UploadService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &UploadService{provider: provider, concurrency: concurrency, now: time.Now}
}

// Upload 任一文件失败即取消其余上传并返回 UploadError，不返回部分结果。
// 已写入的对象不回滚。
func (s *UploadService) Upload(ctx context.Context, studentID, homeworkID string, images []AnswerImage) ([]string, error) {
	if !util.ValidIdentifier(studentID) || !util.ValidIdentifier(homeworkID) {
		return nil, util.NewUploadError("invalid submission identity", util.ErrInvalidIdentifier)
	}
	if len(images) == 0 {
		return nil, util.NewUploadError("nothing to upload", util.ErrNoFilesSelected)
	}

	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range images {
		img := images[i]
		key := BuildObjectKey(studentID, homeworkID, s.now(), img.Filename, img.Data)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			url, err := s.provider.Upload(gctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), img.ContentType)
			if err != nil {
				logger.Log.Error("Answer image upload failed",
					zap.String("filename", img.Filename),
					zap.String("key", key),
					zap.Error(err),
				)
				return util.NewUploadError(fmt.Sprintf("failed to upload %s", img.Filename), err)
			}
			urls[i] = url
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if util.IsKind(err, util.KindUpload) {
			return nil, err
		}
		return nil, util.NewUploadError("upload cancelled", err)
	}

	logger.Log.Debug("Answer images uploaded",
		zap.String("student_id", studentID),
		zap.String("homework_id", homeworkID),
		zap.Int("count", len(urls)),
	)
	return urls, nil
}

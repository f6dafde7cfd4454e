package service

import (
	"fmt"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"homework_eval_backend/pkg/monitoring"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// AnswerImage 学生上传的一页答案，只在内存中存在，落库的只有 URL
type AnswerImage struct {
	Filename    string
	ContentType string
	Data        []byte
	URL         string
}

// Rejection 被过滤掉的文件及原因
type Rejection struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

const (
	rejectNotImage = "not an image"
	rejectTooLarge = "file too large"
	rejectEmpty    = "empty file"
)

// ImageValidator 过滤非图片文件，拒绝只作为诊断返回，不会让流水线失败
type ImageValidator struct {
	maxBytes int64
}

func NewImageValidator(maxBytes int64) *ImageValidator {
	return &ImageValidator{maxBytes: maxBytes}
}

// Validate 保持输入顺序返回通过的文件，不修改文件内容
func (v *ImageValidator) Validate(files []AnswerImage) ([]AnswerImage, []Rejection) {
	accepted := make([]AnswerImage, 0, len(files))
	var rejected []Rejection

	for _, f := range files {
		if reason := v.check(&f); reason != "" {
			rejected = append(rejected, Rejection{Filename: f.Filename, Reason: reason})
			monitoring.ValidationRejections.WithLabelValues(reason).Inc()
			continue
		}
		accepted = append(accepted, f)
	}

	if len(rejected) > 0 {
		logger.Log.Warn("Please select only image files",
			zap.Strings("rejected", lo.Map(rejected, func(r Rejection, _ int) string {
				return fmt.Sprintf("%s (%s)", r.Filename, r.Reason)
			})),
			zap.Int("accepted", len(accepted)),
		)
	}

	return accepted, rejected
}

func (v *ImageValidator) check(f *AnswerImage) string {
	if len(f.Data) == 0 {
		return rejectEmpty
	}
	if v.maxBytes > 0 && int64(len(f.Data)) > v.maxBytes {
		return rejectTooLarge
	}

	declared := f.ContentType
	if declared == "" || declared == util.MimeOctetStream {
		// 客户端未声明类型时按内容识别
		declared = util.DetectMimeType(f.Data)
		f.ContentType = declared
	}
	if !util.IsImage(declared) {
		return rejectNotImage
	}
	return ""
}

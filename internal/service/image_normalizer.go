package service

import (
	"bytes"
	"fmt"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"image"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// ImageNormalizer 识别前统一图片：按 EXIF 旋正，长边缩到 maxDimension，重新编码为 JPEG
type ImageNormalizer struct {
	maxDimension int
	quality      int
}

func NewImageNormalizer(maxDimension int) *ImageNormalizer {
	return &ImageNormalizer{maxDimension: maxDimension, quality: 90}
}

// Normalize 无法解码的图片原样返回，交给识别服务自行处理
func (n *ImageNormalizer) Normalize(img AnswerImage) AnswerImage {
	if n == nil || len(img.Data) == 0 {
		return img
	}

	decoded, err := decodeAnswerImage(img.Data)
	if err != nil {
		logger.Log.Debug("Image left as-is before OCR",
			zap.String("filename", img.Filename),
			zap.Error(err),
		)
		return img
	}

	if n.maxDimension > 0 {
		b := decoded.Bounds()
		if b.Dx() > n.maxDimension || b.Dy() > n.maxDimension {
			decoded = imaging.Fit(decoded, n.maxDimension, n.maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, decoded, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		logger.Log.Warn("Failed to re-encode image", zap.String("filename", img.Filename), zap.Error(err))
		return img
	}

	out := img
	out.Data = buf.Bytes()
	out.ContentType = util.MimeJPEG
	out.Filename = jpegName(img.Filename)
	return out
}

// jpegName 识别服务按扩展名判断格式，重新编码后扩展名要跟着改
func jpegName(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".jpg") || strings.EqualFold(ext, ".jpeg") {
		return name
	}
	return strings.TrimSuffix(name, ext) + ".jpg"
}

func decodeAnswerImage(data []byte) (image.Image, error) {
	ct := util.DetectMimeType(data)
	switch {
	case strings.Contains(ct, "webp"):
		return webp.Decode(bytes.NewReader(data))
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "png"),
		strings.Contains(ct, "gif"), strings.Contains(ct, "bmp"), strings.Contains(ct, "tiff"):
		return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	default:
		return nil, fmt.Errorf("unsupported image format %s", ct)
	}
}

package service

import (
	"context"
	"fmt"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"homework_eval_backend/pkg/monitoring"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PageResult 单页识别结果，Page 从 1 开始对应输入位置
type PageResult struct {
	Page       int
	Text       string
	Confidence float64
	Err        error
}

// PageText 转写稿中的一页
type PageText struct {
	Page int
	Text string
}

// Transcript 按页标注的转写稿，Text 为拼接后的全文
type Transcript struct {
	Pages []PageText
	Text  string
}

// BuildTranscript 空白页不出现在转写稿中；全部为空时返回空字符串
func BuildTranscript(pages []PageResult) Transcript {
	var t Transcript
	segments := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Err != nil {
			continue
		}
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		t.Pages = append(t.Pages, PageText{Page: p.Page, Text: text})
		segments = append(segments, fmt.Sprintf("[Page %d]\n%s", p.Page, text))
	}
	t.Text = strings.Join(segments, "\n\n")
	return t
}

// OCRService 并发识别全部页面
type OCRService struct {
	client     OCRClient
	normalizer *ImageNormalizer

	mu          sync.RWMutex
	policy      string
	concurrency int
}

func NewOCRService(client OCRClient, normalizer *ImageNormalizer, policy string, concurrency int) *OCRService {
	s := &OCRService{client: client, normalizer: normalizer}
	s.Configure(policy, concurrency)
	return s
}

// Configure 配置热更新时调整策略与并发度，对之后的提交生效
func (s *OCRService) Configure(policy string, concurrency int) {
	if policy != util.OCRPolicyBestEffort {
		policy = util.OCRPolicyStrict
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	s.mu.Lock()
	s.policy = policy
	s.concurrency = concurrency
	s.mu.Unlock()
}

func (s *OCRService) settings() (string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, s.concurrency
}

// Extract strict 策略下任一页失败即整体失败；best_effort 下丢弃失败页，全部失败才报错
func (s *OCRService) Extract(ctx context.Context, images []AnswerImage) (Transcript, error) {
	policy, concurrency := s.settings()
	results := make([]PageResult, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range images {
		g.Go(func() error {
			page := i + 1
			img := s.normalizer.Normalize(images[i])
			res, err := s.client.Recognize(gctx, img.Filename, img.Data)
			results[i] = PageResult{Page: page, Text: res.Text, Confidence: res.Confidence, Err: err}
			if err != nil {
				monitoring.OCRPages.WithLabelValues("failed").Inc()
				logger.Log.Warn("OCR failed for page",
					zap.Int("page", page),
					zap.String("filename", images[i].Filename),
					zap.Error(err),
				)
				if policy == util.OCRPolicyStrict {
					return util.NewExtractionError(fmt.Sprintf("failed to extract text from page %d", page), err)
				}
				return nil
			}
			monitoring.OCRPages.WithLabelValues("ok").Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Transcript{}, err
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, util.NewExtractionError("text extraction cancelled", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 && failed == len(results) {
		return Transcript{}, util.NewExtractionError("failed to extract text from images", results[0].Err)
	}
	if failed > 0 {
		logger.Log.Warn("Transcript built from partial pages",
			zap.Int("failed", failed),
			zap.Int("total", len(results)),
		)
	}

	return BuildTranscript(results), nil
}

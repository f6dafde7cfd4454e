package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"homework_eval_backend/internal/config"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OCRResult 单页识别结果，Confidence 只是粗略提示
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCRClient 手写文字识别能力
type OCRClient interface {
	Recognize(ctx context.Context, filename string, data []byte) (OCRResult, error)
}

var ErrNoTextFound = errors.New("no text found in image")

// OCRSpaceClient 调用 OCR.space parse/image 接口
type OCRSpaceClient struct {
	endpoint string
	apiKey   string
	language string
	engine   int
	client   *http.Client
}

func NewOCRSpaceClient(cfg config.OCRConfig) *OCRSpaceClient {
	return &OCRSpaceClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		engine:   cfg.Engine,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

func (c *OCRSpaceClient) Recognize(ctx context.Context, filename string, data []byte) (OCRResult, error) {
	body, contentType, err := c.buildForm(filename, data)
	if err != nil {
		return OCRResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return OCRResult{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return OCRResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return OCRResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OCRResult{}, fmt.Errorf("OCR API error: %d", resp.StatusCode)
	}

	return parseOCRSpaceResponse(raw)
}

func (c *OCRSpaceClient) buildForm(filename string, data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"apikey", c.apiKey},
		{"language", c.language},
		{"isOverlayRequired", "false"},
		{"detectOrientation", "true"},
		{"scale", "true"},
		{"OCREngine", strconv.Itoa(c.engine)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func parseOCRSpaceResponse(raw []byte) (OCRResult, error) {
	if !gjson.ValidBytes(raw) {
		return OCRResult{}, errors.New("OCR API returned invalid JSON")
	}
	doc := gjson.ParseBytes(raw)

	if doc.Get("IsErroredOnProcessing").Bool() {
		return OCRResult{}, fmt.Errorf("OCR processing error: %s", ocrErrorMessage(doc.Get("ErrorMessage")))
	}

	parsed := doc.Get("ParsedResults")
	if !parsed.IsArray() || len(parsed.Array()) == 0 {
		return OCRResult{}, ErrNoTextFound
	}

	first := parsed.Array()[0]
	confidence := 0.6
	if first.Get("TextOverlay.HasOverlay").Bool() {
		confidence = 0.8
	}
	return OCRResult{
		Text:       first.Get("ParsedText").String(),
		Confidence: confidence,
	}, nil
}

// ocrErrorMessage ErrorMessage 可能是字符串也可能是字符串数组
func ocrErrorMessage(v gjson.Result) string {
	if v.IsArray() {
		parts := make([]string, 0, len(v.Array()))
		for _, p := range v.Array() {
			parts = append(parts, p.String())
		}
		return strings.Join(parts, "; ")
	}
	if v.String() == "" {
		return "unknown error"
	}
	return v.String()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOCR 按文件名返回预设结果
type fakeOCR struct {
	mu    sync.Mutex
	texts map[string]string
	fails map[string]error
	calls int
}

func (f *fakeOCR) Recognize(ctx context.Context, filename string, data []byte) (OCRResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.fails[filename]; ok {
		return OCRResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return OCRResult{}, err
	}
	return OCRResult{Text: f.texts[filename], Confidence: 0.8}, nil
}

func pages(names ...string) []AnswerImage {
	out := make([]AnswerImage, len(names))
	for i, n := range names {
		out[i] = AnswerImage{Filename: n, ContentType: "image/jpeg", Data: []byte("img-" + n)}
	}
	return out
}

func TestBuildTranscript(t *testing.T) {
	t.Run("blank page is omitted", func(t *testing.T) {
		tr := BuildTranscript([]PageResult{
			{Page: 1, Text: "  "},
			{Page: 2, Text: "2+2=4"},
		})
		assert.Equal(t, "[Page 2]\n2+2=4", tr.Text)
		assert.Equal(t, []PageText{{Page: 2, Text: "2+2=4"}}, tr.Pages)
	})

	t.Run("pages joined by blank line and trimmed", func(t *testing.T) {
		tr := BuildTranscript([]PageResult{
			{Page: 1, Text: "\n x = 3 \n"},
			{Page: 2, Text: "y = 4"},
		})
		assert.Equal(t, "[Page 1]\nx = 3\n\n[Page 2]\ny = 4", tr.Text)
	})

	t.Run("all empty yields empty transcript", func(t *testing.T) {
		tr := BuildTranscript([]PageResult{{Page: 1, Text: ""}, {Page: 2, Text: "\t"}})
		assert.Equal(t, "", tr.Text)
		assert.Empty(t, tr.Pages)
	})

	t.Run("failed pages are skipped", func(t *testing.T) {
		tr := BuildTranscript([]PageResult{
			{Page: 1, Err: errors.New("boom")},
			{Page: 2, Text: "ok"},
		})
		assert.Equal(t, "[Page 2]\nok", tr.Text)
	})
}

func TestOCRService_StrictFailsOnAnyPage(t *testing.T) {
	client := &fakeOCR{
		texts: map[string]string{"p1.jpg": "one", "p3.jpg": "three"},
		fails: map[string]error{"p2.jpg": errors.New("OCR API error: 500")},
	}
	svc := NewOCRService(client, nil, util.OCRPolicyStrict, 1)

	_, err := svc.Extract(context.Background(), pages("p1.jpg", "p2.jpg", "p3.jpg"))
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.KindExtraction))
	assert.Contains(t, err.Error(), "page 2")
}

func TestOCRService_BestEffortDropsFailedPages(t *testing.T) {
	client := &fakeOCR{
		texts: map[string]string{"p1.jpg": "one", "p3.jpg": "three"},
		fails: map[string]error{"p2.jpg": errors.New("timeout")},
	}
	svc := NewOCRService(client, nil, util.OCRPolicyBestEffort, 2)

	tr, err := svc.Extract(context.Background(), pages("p1.jpg", "p2.jpg", "p3.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "[Page 1]\none\n\n[Page 3]\nthree", tr.Text)
}

func TestOCRService_BestEffortFailsWhenEveryPageFails(t *testing.T) {
	client := &fakeOCR{fails: map[string]error{
		"p1.jpg": errors.New("down"),
		"p2.jpg": errors.New("down"),
	}}
	svc := NewOCRService(client, nil, util.OCRPolicyBestEffort, 2)

	_, err := svc.Extract(context.Background(), pages("p1.jpg", "p2.jpg"))
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.KindExtraction))
}

func TestOCRService_PageNumbersFollowInputOrder(t *testing.T) {
	client := &fakeOCR{texts: map[string]string{"a.jpg": "A", "b.jpg": "B", "c.jpg": "C"}}
	svc := NewOCRService(client, nil, util.OCRPolicyStrict, 3)

	tr, err := svc.Extract(context.Background(), pages("a.jpg", "b.jpg", "c.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "[Page 1]\nA\n\n[Page 2]\nB\n\n[Page 3]\nC", tr.Text)
	assert.Equal(t, 3, client.calls)
}

func TestOCRService_ConfigureFallsBackToStrict(t *testing.T) {
	svc := NewOCRService(&fakeOCR{}, nil, "bogus", 0)
	policy, concurrency := svc.settings()
	assert.Equal(t, util.OCRPolicyStrict, policy)
	assert.Equal(t, 1, concurrency)

	svc.Configure(util.OCRPolicyBestEffort, 6)
	policy, concurrency = svc.settings()
	assert.Equal(t, util.OCRPolicyBestEffort, policy)
	assert.Equal(t, 6, concurrency)
}

func newOCRSpaceServer(t *testing.T, status int, body string, seen *map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if seen != nil {
			fields := map[string]string{}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			fields["file"] = fmt.Sprintf("%s:%s", hdr.Filename, data)
			*seen = fields
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ocrConfig(endpoint string) config.OCRConfig {
	return config.OCRConfig{
		Endpoint:       endpoint,
		APIKey:         "test-key",
		Language:       "eng",
		Engine:         2,
		TimeoutSeconds: 5,
	}
}

func TestOCRSpaceClient_Recognize(t *testing.T) {
	var seen map[string]string
	srv := newOCRSpaceServer(t, http.StatusOK,
		`{"ParsedResults":[{"ParsedText":"x = 4\r\n","TextOverlay":{"HasOverlay":true}}],"IsErroredOnProcessing":false}`,
		&seen)

	res, err := NewOCRSpaceClient(ocrConfig(srv.URL)).Recognize(context.Background(), "page1.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "x = 4\r\n", res.Text)
	assert.Equal(t, 0.8, res.Confidence)

	assert.Equal(t, "test-key", seen["apikey"])
	assert.Equal(t, "eng", seen["language"])
	assert.Equal(t, "false", seen["isOverlayRequired"])
	assert.Equal(t, "true", seen["detectOrientation"])
	assert.Equal(t, "true", seen["scale"])
	assert.Equal(t, "2", seen["OCREngine"])
	assert.Equal(t, "page1.jpg:jpeg-bytes", seen["file"])
}

func TestOCRSpaceClient_NoOverlayConfidence(t *testing.T) {
	srv := newOCRSpaceServer(t, http.StatusOK, `{"ParsedResults":[{"ParsedText":"hello"}]}`, nil)

	res, err := NewOCRSpaceClient(ocrConfig(srv.URL)).Recognize(context.Background(), "p.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0.6, res.Confidence)
}

func TestOCRSpaceClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"non-2xx", http.StatusBadGateway, `{}`, "OCR API error: 502"},
		{"processing error string", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":"File too big"}`, "File too big"},
		{"processing error array", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":["Bad image","Retry later"]}`, "Bad image; Retry later"},
		{"no parsed results", http.StatusOK, `{"ParsedResults":[],"IsErroredOnProcessing":false}`, "no text found"},
		{"invalid json", http.StatusOK, `<html>oops</html>`, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOCRSpaceServer(t, tt.status, tt.body, nil)
			_, err := NewOCRSpaceClient(ocrConfig(srv.URL)).Recognize(context.Background(), "p.jpg", []byte("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

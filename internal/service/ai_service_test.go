package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"homework_eval_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	cases := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":           {in: "abc", n: 10, want: "abc"},
		"ascii":           {in: "abcdef", n: 3, want: "abc..."},
		"cut inside rune": {in: "评分结果", n: 4, want: "评..."},
		"on boundary":     {in: "评分结果", n: 6, want: "评分..."},
		"first rune":      {in: "评分", n: 2, want: "..."},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestAIService_GenerateErrorBodyStaysValidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
		// 每个字符 3 字节，512 落在字符中间
		io.WriteString(w, "x"+strings.Repeat("服务繁忙", 100))
	}))
	t.Cleanup(srv.Close)

	ai := NewAIService(config.AIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m", TimeoutSeconds: 5})
	_, err := ai.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.True(t, utf8.ValidString(err.Error()))
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	content := "storage:\n  local_path: " + uploads + "\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	return dir
}

func setCredentials(t *testing.T) {
	t.Setenv("AI_API_KEY", "ai-key")
	t.Setenv("OCR_API_KEY", "ocr-key")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("OCR_POLICY", "")
	t.Setenv("SERVER_MODE", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setCredentials(t)
	dir := writeConfig(t, "jwt:\n  secret: dev-secret\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpireTime)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "strict", cfg.OCR.Policy)
	assert.Equal(t, 10, cfg.Pipeline.MaxImages)
	assert.Equal(t, int64(10*1024*1024), cfg.Pipeline.MaxImageBytes)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Timeout())
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.AttemptTTL())
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "ai-key", cfg.AI.APIKey)
	assert.Equal(t, "ocr-key", cfg.OCR.APIKey)

	assert.DirExists(t, filepath.Join(dir, "uploads"))
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv("OCR_POLICY", "best_effort")
	t.Setenv("REDIS_HOST", "redis.internal")
	dir := writeConfig(t, "jwt:\n  secret: dev-secret\nocr:\n  policy: strict\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "best_effort", cfg.OCR.Policy)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadConfig_MissingOCRKey(t *testing.T) {
	setCredentials(t)
	t.Setenv("OCR_API_KEY", "")
	dir := writeConfig(t, "jwt:\n  secret: dev-secret\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR.APIKey")
}

func TestLoadConfig_InvalidPolicy(t *testing.T) {
	setCredentials(t)
	dir := writeConfig(t, "jwt:\n  secret: dev-secret\nocr:\n  policy: sometimes\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Policy")
}

func TestLoadConfig_AttemptTTLMustOutlastTimeout(t *testing.T) {
	setCredentials(t)
	dir := writeConfig(t, "jwt:\n  secret: dev-secret\npipeline:\n  timeout_seconds: 300\n  attempt_ttl_seconds: 300\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AttemptTTLSeconds")

	dir = writeConfig(t, "jwt:\n  secret: dev-secret\npipeline:\n  timeout_seconds: 60\n  attempt_ttl_seconds: 120\n")
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.AttemptTTL())
}

func TestLoadConfig_ReleaseRequiresStrongSecret(t *testing.T) {
	setCredentials(t)
	dir := writeConfig(t, "server:\n  mode: release\njwt:\n  secret: short\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret is too short")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	setCredentials(t)
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

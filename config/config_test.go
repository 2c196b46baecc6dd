package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "addr: \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "sessions", cfg.SessionDir)
	require.Equal(t, 6, cfg.Session.CaptchaMaxRetry)
	require.Equal(t, 5*time.Second, cfg.Session.RetryDelay())
	require.True(t, cfg.Video.Enable)
	require.Equal(t, 58, cfg.Video.ReportRate)
	require.Equal(t, 0.95, cfg.Work.SingleChoiceRatio)
	require.Equal(t, time.Second, cfg.Work.SubmitDelay())
	require.Empty(t, cfg.Searcher)
}

func TestLoadSearchers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
searchers:
  - type: json
    path: bank.json
  - type: redis
    addr: 127.0.0.1:6379
    prefix: "qa:"
`))
	require.NoError(t, err)
	require.Len(t, cfg.Searcher, 2)
	require.Equal(t, "json", cfg.Searcher[0].Type)
	require.Equal(t, "bank.json", cfg.Searcher[0].Path)
	require.Equal(t, "qa:", cfg.Searcher[1].Prefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COURSEPILOT_ADDR", ":7777")
	cfg, err := Load(writeConfig(t, "addr: \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Addr)
}

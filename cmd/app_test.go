package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nijaru/yt-script/config"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/pool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings(t *testing.T) {
	settings, err := loadSettings("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), settings)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"wordCount": 2500, "language": "English"}`), 0o644))

	settings, err = loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 2500, settings.WordCount)
	assert.Equal(t, models.LanguageEnglish, settings.Language)
	assert.Equal(t, models.DefaultMainCharacter, settings.MainCharacter)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = loadSettings(path)
	assert.Error(t, err)

	_, err = loadSettings(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, writeOutput(path, "final script"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "final script\n", string(data))
}

func TestNewPools(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`keys:
  - AIzaSyA1234567890abcdefghijklmn
proxies:
  - url: socks5://10.0.0.2:1080
    country: DE
`), 0o644))

	cfg := &config.Config{Pools: config.PoolsConfig{
		SeedFile:             seed,
		Keys:                 []string{"AIzaSyB1234567890abcdefghijklmn", "AIzaSyA1234567890abcdefghijklmn"},
		Proxies:              []string{"http://10.0.0.3:8080", "http://"},
		CredentialBaseDelay:  pool.DefaultCredentialBaseDelay,
		CredentialMaxDelay:   pool.DefaultCredentialMaxDelay,
		ProxyBaseDelay:       pool.DefaultEgressBaseDelay,
		ProxyMaxDelay:        pool.DefaultEgressMaxDelay,
		ProxyTestConcurrency: 1,
	}}

	keys, proxies, err := newPools(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, keys.Len(), "duplicate env key is skipped")
	assert.Equal(t, 2, proxies.Len(), "invalid proxy is skipped")

	stats := proxies.EgressStats()
	assert.Equal(t, "DE", stats.Proxies[0].Country)
	assert.Equal(t, pool.SchemeSOCKS5, stats.Proxies[0].Type)

	cfg.Pools.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err = newPools(cfg)
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	pub := logPublisher{logger: logrus.NewEntry(log)}
	require.NoError(t, pub.Publish(context.Background(), models.ProgressEvent{
		Step:         3,
		SegmentIndex: 2,
		SegmentTotal: 5,
		Message:      "Đang phân tích",
		Retry:        &models.RetryInfo{Attempt: 2},
	}))

	out := buf.String()
	assert.Contains(t, out, "step=3")
	assert.Contains(t, out, "segment=2/5")
	assert.Contains(t, out, "attempt=2")
}

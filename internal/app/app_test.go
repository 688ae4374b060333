package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pricecache/internal/common"
)

const testCatalog = `[
  {"symbol": "SPY", "name": "SPDR S&P 500 ETF", "inception": "1993-01-29"},
  {"symbol": "btc-usd", "name": "Bitcoin", "inception": "2014-09-17"}
]`

// writeTestConfig writes a catalog and a config pointing at temp storage.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"PORT", "PRICECACHE_PORT", "PRICECACHE_CATALOG", "PRICECACHE_DATA_PATH", "PRICECACHE_STORAGE_BACKEND", "ENABLE_CRON", "PRICECACHE_ENABLE_CRON"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0644))

	config := `environment = "test"

[server]
host = "127.0.0.1"
port = 5099

[catalog]
path = "` + filepath.ToSlash(catalogPath) + `"

[storage]
backend = "file"

[storage.file]
path = "` + filepath.ToSlash(filepath.Join(dir, "prices.json")) + `"

[clients.yahoo]
base_url = "http://127.0.0.1:1"

[logging]
level = "error"
`
	configPath := filepath.Join(dir, "pricecache.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))
	return configPath
}

func TestNewApp_InitializesAllComponents(t *testing.T) {
	a, err := NewApp(writeTestConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Config)
	assert.NotNil(t, a.Logger)
	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Client)
	assert.NotNil(t, a.MarketService)
	assert.NotNil(t, a.Jobs)
	assert.False(t, a.StartupTime.IsZero())

	assert.Equal(t, 2, a.Catalog.Len())
	assert.Equal(t, []string{"SPY", "BTC-USD"}, a.Catalog.Symbols())
	assert.Equal(t, 0, a.Store.Len(), "no snapshot yet, store starts empty")
	assert.Equal(t, 5099, a.Config.Server.Port)
}

func TestNewApp_StartSchedulerDisabled(t *testing.T) {
	a, err := NewApp(writeTestConfig(t))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.StartScheduler())
	for _, st := range a.Jobs.Status() {
		assert.False(t, st.Running, st.Job)
	}
}

func TestNewApp_CloseIsIdempotent(t *testing.T) {
	a, err := NewApp(writeTestConfig(t))
	require.NoError(t, err)

	a.Close()
	a.Close()
}

func TestNew_MissingCatalogFails(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Catalog.Path = filepath.Join(t.TempDir(), "missing.json")
	config.Storage.File.Path = filepath.Join(t.TempDir(), "prices.json")

	_, err := New(config, common.NewSilentLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset catalog")
}

func TestNew_WarnsWhenProductionAdminIsOpen(t *testing.T) {
	newConfig := func(env, secret string) *common.Config {
		dir := t.TempDir()
		catalogPath := filepath.Join(dir, "assets.json")
		require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0644))

		config := common.NewDefaultConfig()
		config.Environment = env
		config.Admin.Secret = secret
		config.Catalog.Path = catalogPath
		config.Storage.File.Path = filepath.Join(dir, "prices.json")
		return config
	}

	tests := []struct {
		env, secret string
		warn        bool
	}{
		{"production", "", true},
		{"prod", "", true},
		{"production", "s3cret", false},
		{"development", "", false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		a, err := New(newConfig(tt.env, tt.secret), common.NewLoggerWithOutput("warn", &buf))
		require.NoError(t, err)
		a.Close()

		assert.Equal(t, tt.warn, bytes.Contains(buf.Bytes(), []byte("Admin secret not set")), tt.env+"/"+tt.secret)
	}
}

func TestNewApp_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"tape\"\n"), 0644))

	_, err := NewApp(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("PRICECACHE_CONFIG", "")
	assert.Equal(t, "explicit.toml", resolveConfigPath("explicit.toml", t.TempDir()))

	t.Setenv("PRICECACHE_CONFIG", "/etc/pricecache.toml")
	assert.Equal(t, "/etc/pricecache.toml", resolveConfigPath("", t.TempDir()))

	t.Setenv("PRICECACHE_CONFIG", "")
	bin := t.TempDir()
	assert.Equal(t, "config/pricecache.toml", resolveConfigPath("", bin))

	inBin := filepath.Join(bin, "pricecache.toml")
	require.NoError(t, os.WriteFile(inBin, nil, 0644))
	assert.Equal(t, inBin, resolveConfigPath("", bin))
}

func TestResolveRelative(t *testing.T) {
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "assets.json"), []byte("[]"), 0644))

	assert.Equal(t, filepath.Join(bin, "assets.json"), resolveRelative("assets.json", bin))
	assert.Equal(t, "other.json", resolveRelative("other.json", bin))
	assert.Equal(t, "/abs/assets.json", resolveRelative("/abs/assets.json", bin))
	assert.Equal(t, "", resolveRelative("", bin))
}

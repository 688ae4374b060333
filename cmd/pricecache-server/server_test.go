package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pricecache/internal/app"
	"github.com/bobmcallan/pricecache/internal/models"
	"github.com/bobmcallan/pricecache/internal/server"
)

// upstream stubs the provider chart endpoint and counts calls.
func upstream(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if !strings.HasPrefix(r.URL.Path, "/v8/finance/chart/") {
			http.NotFound(w, r)
			return
		}
		day := time.Date(2024, time.June, 10, 14, 30, 0, 0, time.UTC)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{"timestamp":[` +
			itoa(day.Unix()) + `,` + itoa(day.AddDate(0, 0, 1).Unix()) + `,` + itoa(day.AddDate(0, 0, 2).Unix()) +
			`],"indicators":{"quote":[{"close":[10.5,11.25,null]}]}}],"error":null}}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// testServer wires the full application against a stubbed provider.
func testServer(t *testing.T, providerURL string) *httptest.Server {
	t.Helper()
	for _, name := range []string{"PORT", "PRICECACHE_PORT", "PRICECACHE_CATALOG", "PRICECACHE_DATA_PATH", "PRICECACHE_STORAGE_BACKEND", "PRICECACHE_ADMIN_SECRET", "ENABLE_CRON", "PRICECACHE_ENABLE_CRON"} {
		t.Setenv(name, "")
	}

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "assets.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte("- symbol: SPY\n  name: SPDR S&P 500 ETF\n  inception: \"1993-01-29\"\n"), 0644))

	config := `[catalog]
path = "` + filepath.ToSlash(catalogPath) + `"

[storage.file]
path = "` + filepath.ToSlash(filepath.Join(dir, "prices.json")) + `"

[clients.yahoo]
base_url = "` + providerURL + `"
rate_limit = 0

[logging]
level = "error"
`
	configPath := filepath.Join(dir, "pricecache.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	a, err := app.NewApp(configPath)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ts := httptest.NewServer(server.NewServer(a).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	var calls int32
	ts := testServer(t, upstream(t, &calls).URL)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestChartReadThroughAndSnapshot(t *testing.T) {
	var calls int32
	ts := testServer(t, upstream(t, &calls).URL)

	// Nothing persisted yet.
	resp, err := http.Get(ts.URL + "/api/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	read := func() models.ChartResponse {
		resp, err := http.Get(ts.URL + "/api/chart/spy")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body models.ChartResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	first := read()
	assert.Equal(t, models.SourceLive, first.Source)
	require.Len(t, first.Data, 2, "null close is dropped")
	assert.Equal(t, "2024-06-10", first.Data[0].Date.String())
	assert.Equal(t, 11.25, first.Data[1].Close)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	second := read()
	assert.Equal(t, models.SourceCache, second.Source)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "fresh entry is served without a provider call")

	resp, err = http.Get(ts.URL + "/api/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Contains(t, snap, "SPY")
	assert.Len(t, snap["SPY"].Data, 2)
	assert.Equal(t, "SPDR S&P 500 ETF", snap["SPY"].Name)
}

func TestChartNoDataWhenProviderDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	ts := testServer(t, down.URL)

	resp, err := http.Get(ts.URL + "/api/chart/SPY")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no_data_available", body["code"])
}

func TestAdminRefreshRunsInBackground(t *testing.T) {
	var calls int32
	ts := testServer(t, upstream(t, &calls).URL)

	resp, err := http.Post(ts.URL+"/api/admin/refresh/full", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/admin/refresh/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Jobs []models.JobStatus `json:"jobs"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		for _, j := range body.Jobs {
			if j.Job == models.JobFull && !j.Running && j.LastReport != nil {
				return len(j.LastReport.Refreshed) == 1
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

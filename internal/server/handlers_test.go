package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
	"github.com/bobmcallan/pricecache/internal/services/market"
)

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	info := common.GetBuildInfo()
	assert.Equal(t, map[string]string{"version": info.Version, "build": info.Build, "commit": info.Commit}, body)
}

func TestHandleAssets(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var assets []models.Asset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assets))
	require.Len(t, assets, 2)
	assert.Equal(t, "SPY", assets[0].Symbol)
	assert.Equal(t, "1993-01-29", assets[0].Inception.String())
	assert.Equal(t, "BTC-USD", assets[1].Symbol)
}

func TestHandleChart_Success(t *testing.T) {
	deps := newTestDeps()
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/spy", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body models.ChartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SPY", body.Symbol)
	assert.Equal(t, models.SourceCache, body.Source)
	assert.Len(t, body.Data, 3)
	assert.Contains(t, rec.Body.String(), `"date":"2024-06-12"`)

	req := deps.market.lastRequest()
	assert.Equal(t, "SPY", req.Symbol)
	assert.True(t, req.Start.IsZero(), "defaults are applied by the service")
	assert.True(t, req.End.IsZero())
	assert.Empty(t, req.Interval)
}

func TestHandleChart_QueryParams(t *testing.T) {
	deps := newTestDeps()
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/BTC-USD?start=2020-01-01&end=2020-12-31&interval=1wk", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := deps.market.lastRequest()
	assert.Equal(t, "BTC-USD", req.Symbol)
	assert.Equal(t, "2020-01-01", req.Start.String())
	assert.Equal(t, "2020-12-31", req.End.String())
	assert.Equal(t, "1wk", req.Interval)
}

func TestHandleChart_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"bad_start", "?start=2020-13-01", "start must be YYYY-MM-DD"},
		{"bad_end", "?end=yesterday", "end must be YYYY-MM-DD"},
		{"bad_interval", "?interval=5m", "interval must be one of"},
		{"start_after_end", "?start=2021-01-01&end=2020-01-01", "is after end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps()
			srv := newTestServer(t, deps)

			rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/SPY"+tt.query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, deps.market.requests, "service must not be called")
		})
	}
}

func TestHandleChart_NoDataAvailable(t *testing.T) {
	deps := newTestDeps()
	deps.market.chart = func(req interfaces.ChartRequest) (*models.ChartResponse, error) {
		return nil, fmt.Errorf("%s: %w: %w", req.Symbol, market.ErrNoDataAvailable, errors.New("upstream 503"))
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/NEWCO", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no_data_available", body.Code)
	assert.Contains(t, body.Error, "NEWCO")
}

func TestHandleChart_UnexpectedError(t *testing.T) {
	deps := newTestDeps()
	deps.market.chart = func(interfaces.ChartRequest) (*models.ChartResponse, error) {
		return nil, errors.New("store exploded")
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/SPY", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestRouteChart_Paths(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/SPY/candles", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/chart/SPY", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleChartImage(t *testing.T) {
	deps := newTestDeps()
	deps.market.chart = func(req interfaces.ChartRequest) (*models.ChartResponse, error) {
		return &models.ChartResponse{Symbol: "SPY", Source: models.SourceStaleCache, Data: samplePoints()}, nil
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/SPY/image", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, models.SourceStaleCache, rec.Header().Get("X-Chart-Source"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), "body should be a PNG")
}

func TestHandleChartImage_TooFewPoints(t *testing.T) {
	deps := newTestDeps()
	deps.market.chart = func(req interfaces.ChartRequest) (*models.ChartResponse, error) {
		return &models.ChartResponse{Symbol: "SPY", Source: models.SourceLive, Data: samplePoints()[:1]}, nil
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chart/SPY/image", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 2")
}

func TestHandleRefreshSymbol_Success(t *testing.T) {
	deps := newTestDeps()
	var got string
	deps.market.refresh = func(symbol string) (*models.SeriesEntry, error) {
		got = symbol
		return &models.SeriesEntry{
			Symbol:      symbol,
			LastUpdated: time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC),
			Series:      samplePoints(),
		}, nil
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/refresh/btc-usd", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC-USD", got)
	assert.JSONEq(t, `{"ok":true,"refreshed":true,"points":3,"lastUpdated":"2024-06-15T12:00:00Z"}`, rec.Body.String())
}

func TestHandleRefreshSymbol_Failure(t *testing.T) {
	deps := newTestDeps()
	deps.market.refresh = func(symbol string) (*models.SeriesEntry, error) {
		return nil, fmt.Errorf("refresh %s: %w", symbol, market.ErrEmptyResult)
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/refresh/SPY", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "provider returned no data")
}

func TestHandleRefreshSymbol_Validation(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/refresh/SPY", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/refresh/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSnapshot(t *testing.T) {
	deps := newTestDeps()
	raw := []byte("{\n  \"SPY\": {\"lastUpdated\": \"2024-06-15T00:05:00Z\", \"data\": []}\n}\n")
	deps.store = &rawStore{data: raw}
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, raw, rec.Body.Bytes(), "bytes are served verbatim")
}

func TestHandleSnapshot_Errors(t *testing.T) {
	deps := newTestDeps()
	srv := newTestServer(t, deps)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	deps = newTestDeps()
	deps.store = &rawStore{err: errors.New("disk gone")}
	srv = newTestServer(t, deps)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// Package yahoo provides a client for the Yahoo Finance v8 chart API
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/models"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // requests per second
	DefaultUserAgent = "Mozilla/5.0"
)

// ErrFetch marks every transport or HTTP-status failure from the provider.
var ErrFetch = errors.New("market data fetch failed")

// FetchError represents a failed provider call. StatusCode is 0 for
// transport failures.
type FetchError struct {
	Symbol     string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("yahoo fetch %s: %s", e.Symbol, e.Message)
	}
	return fmt.Sprintf("yahoo fetch %s: %s (status: %d)", e.Symbol, e.Message, e.StatusCode)
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Retryable reports whether a later attempt might succeed.
func (e *FetchError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ValidInterval reports whether the provider accepts the bar interval.
func ValidInterval(interval string) bool {
	switch interval {
	case "1d", "1wk", "1mo":
		return true
	}
	return false
}

// Client implements interfaces.MarketDataClient
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the shared request budget. Zero or negative disables limiting.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header. Yahoo rejects requests without one.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new Yahoo chart client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// chartResponse mirrors the subset of the v8 chart payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchSeries retrieves closes for [start, end] inclusive.
func (c *Client) FetchSeries(ctx context.Context, symbol string, start, end models.Date, interval string) ([]models.PricePoint, error) {
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Symbol: symbol, Message: "rate limit wait: " + err.Error()}
	}

	params := url.Values{}
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	// period2 is exclusive upstream; move past the end day so it is included.
	params.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	params.Set("interval", interval)
	params.Set("events", "history")
	params.Set("includeAdjustedClose", "true")

	path := "/v8/finance/chart/" + url.PathEscape(symbol)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug().Str("symbol", symbol).Str("start", start.String()).Str("end", end.String()).Str("interval", interval).Msg("Yahoo chart request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Symbol: symbol, StatusCode: 0, Message: "read body: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &FetchError{Symbol: symbol, StatusCode: resp.StatusCode, Message: msg}
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		c.logger.Warn().Str("symbol", symbol).Err(err).Msg("Undecodable chart body, treating as empty")
		return []models.PricePoint{}, nil
	}
	if chart.Chart.Error != nil {
		c.logger.Warn().Str("symbol", symbol).Str("code", chart.Chart.Error.Code).Str("description", chart.Chart.Error.Description).Msg("Chart API returned an error payload")
		return []models.PricePoint{}, nil
	}
	if len(chart.Chart.Result) == 0 {
		return []models.PricePoint{}, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return []models.PricePoint{}, nil
	}
	closes := result.Indicators.Quote[0].Close

	byDay := make(map[models.Date]float64, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		byDay[models.DateOf(time.Unix(ts, 0))] = *closes[i]
	}

	points := make([]models.PricePoint, 0, len(byDay))
	for d, cl := range byDay {
		points = append(points, models.PricePoint{Date: d, Close: cl})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	return points, nil
}

// Package models defines data structures for pricecache
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day wire format.
const DateLayout = "2006-01-02"

// Date is a calendar day at UTC midnight.
type Date struct {
	time.Time
}

// NewDate returns the UTC calendar day y-m-d.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// String returns the YYYY-MM-DD form.
func (d Date) String() string {
	return d.Time.Format(DateLayout)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

// AddDate mirrors time.Time.AddDate for calendar days.
func (d Date) AddDate(years, months, days int) Date {
	return DateOf(d.Time.AddDate(years, months, days))
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CanonicalSymbol normalizes a symbol key to the canonical (upper) case.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Asset is one tradable instrument from the static catalog.
type Asset struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Inception Date   `json:"inception"`
}

// PricePoint is a single daily (or weekly) close.
type PricePoint struct {
	Date  Date    `json:"date"`
	Close float64 `json:"close"`
}

// SeriesEntry is the cached series for one symbol.
// Series is strictly ascending by Date with no duplicate dates.
type SeriesEntry struct {
	Symbol      string       `json:"symbol"`
	Name        string       `json:"name,omitempty"`
	Inception   *Date        `json:"inception,omitempty"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Series      []PricePoint `json:"data"`
}

// Clone returns a deep copy of the entry.
func (e *SeriesEntry) Clone() *SeriesEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Inception != nil {
		inc := *e.Inception
		c.Inception = &inc
	}
	c.Series = make([]PricePoint, len(e.Series))
	copy(c.Series, e.Series)
	return &c
}

// Chart response source tags.
const (
	SourceCache      = "cache"
	SourceLive       = "live"
	SourceStaleCache = "stale-cache"
)

// ChartResponse is the read-path answer for one symbol.
type ChartResponse struct {
	Symbol      string       `json:"symbol"`
	Source      string       `json:"source"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Data        []PricePoint `json:"data"`
}

// Package catalog loads the static asset list the price cache tracks.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/pricecache/internal/models"
)

// assetRecord is the on-disk shape of one catalog row.
type assetRecord struct {
	Symbol    string `json:"symbol" yaml:"symbol"`
	Name      string `json:"name" yaml:"name"`
	Inception string `json:"inception" yaml:"inception"`
}

// Catalog is an immutable, ordered set of assets keyed by canonical symbol.
type Catalog struct {
	assets []models.Asset
	index  map[string]int
}

// Load reads a .json, .yaml or .yml catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var records []assetRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	case ".json", "":
		err = json.Unmarshal(data, &records)
	default:
		return nil, fmt.Errorf("catalog %s: unsupported extension %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return build(records)
}

// FromAssets builds a catalog from already-typed assets.
func FromAssets(assets ...models.Asset) (*Catalog, error) {
	records := make([]assetRecord, len(assets))
	for i, a := range assets {
		records[i] = assetRecord{Symbol: a.Symbol, Name: a.Name, Inception: a.Inception.String()}
	}
	return build(records)
}

// build validates records and assembles a catalog.
func build(records []assetRecord) (*Catalog, error) {
	c := &Catalog{
		assets: make([]models.Asset, 0, len(records)),
		index:  make(map[string]int, len(records)),
	}
	for i, r := range records {
		symbol := models.CanonicalSymbol(r.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("catalog row %d: missing symbol", i)
		}
		if _, dup := c.index[symbol]; dup {
			return nil, fmt.Errorf("catalog row %d: duplicate symbol %s", i, symbol)
		}
		inception, err := models.ParseDate(r.Inception)
		if err != nil {
			return nil, fmt.Errorf("catalog row %d (%s): %w", i, symbol, err)
		}
		c.index[symbol] = len(c.assets)
		c.assets = append(c.assets, models.Asset{
			Symbol:    symbol,
			Name:      strings.TrimSpace(r.Name),
			Inception: inception,
		})
	}
	return c, nil
}

// All returns the assets in file order.
func (c *Catalog) All() []models.Asset {
	out := make([]models.Asset, len(c.assets))
	copy(out, c.assets)
	return out
}

// Lookup finds an asset by symbol (case-insensitive).
func (c *Catalog) Lookup(symbol string) (models.Asset, bool) {
	i, ok := c.index[models.CanonicalSymbol(symbol)]
	if !ok {
		return models.Asset{}, false
	}
	return c.assets[i], true
}

// Inception returns the first trading day of a catalogued symbol.
func (c *Catalog) Inception(symbol string) (models.Date, bool) {
	a, ok := c.Lookup(symbol)
	if !ok {
		return models.Date{}, false
	}
	return a.Inception, true
}

// Symbols returns the canonical symbols in file order.
func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.assets))
	for i, a := range c.assets {
		out[i] = a.Symbol
	}
	return out
}

// Len returns the number of assets.
func (c *Catalog) Len() int {
	return len(c.assets)
}

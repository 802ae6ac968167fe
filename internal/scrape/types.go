// Package scrape holds the core domain types shared across the scraping
// pipeline: source configuration, raw and normalized listings, run results
// and the interfaces each pipeline stage implements.
package scrape

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SelectorConfig names the CSS selectors used to pull listings out of a
// source's search results page. Container, Name and Price are required;
// Image is optional.
type SelectorConfig struct {
	Container string `json:"container" mapstructure:"container"`
	Name      string `json:"name" mapstructure:"name"`
	Price     string `json:"price" mapstructure:"price"`
	Image     string `json:"image" mapstructure:"image"`
}

// CorrectionConfig controls the small-price correction applied by the
// normalizer. Some sources truncate trailing zeroes on large amounts, so
// values below Threshold are multiplied by Multiplier. Keep it disabled
// for sources that genuinely sell low-priced items.
type CorrectionConfig struct {
	Enabled    bool    `json:"enabled" mapstructure:"enabled"`
	Threshold  float64 `json:"threshold" mapstructure:"threshold"`
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// SourceConfig describes one scraped site: where to search, how often,
// and how to read its result pages.
type SourceConfig struct {
	ID                string            `json:"id" mapstructure:"id"`
	DisplayName       string            `json:"display_name" mapstructure:"display_name"`
	Enabled           bool              `json:"enabled" mapstructure:"enabled"`
	Interval          time.Duration     `json:"interval" mapstructure:"interval"`
	BaseURL           string            `json:"base_url" mapstructure:"base_url"`
	SearchURLTemplate string            `json:"search_url_template" mapstructure:"search_url_template"`
	Currency          string            `json:"currency" mapstructure:"currency"`
	Queries           []string          `json:"queries" mapstructure:"queries"`
	Selectors         SelectorConfig    `json:"selectors" mapstructure:"selectors"`
	Correction        *CorrectionConfig `json:"correction,omitempty" mapstructure:"correction"`
}

// SearchURL builds the search URL for a query by substituting the %q
// placeholder in the template. Spaces become '+' the way the target
// sites' own search forms encode them.
func (c SourceConfig) SearchURL(query string) string {
	encoded := strings.ReplaceAll(strings.TrimSpace(query), " ", "+")
	return strings.ReplaceAll(c.SearchURLTemplate, "%q", encoded)
}

// RawListing is one product card as extracted from a page, before any
// validation or parsing.
type RawListing struct {
	Name      string
	PriceText string
	ImageURL  string
}

// Listing is a validated price observation ready for persistence.
type Listing struct {
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	ImageURL    string          `json:"image_url,omitempty"`
	SourceID    string          `json:"source_id"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// RunResult summarizes one scraping run of a single source.
type RunResult struct {
	SourceID string    `json:"source_id"`
	Listings []Listing `json:"listings"`
	Dropped  int       `json:"dropped"`
	Errors   []error   `json:"-"`
}

// AllFailed reports whether the run produced nothing but errors. Runs
// that found no listings and hit no errors are empty, not failed.
func (r RunResult) AllFailed() bool {
	return len(r.Listings) == 0 && len(r.Errors) > 0
}

// SourceStatus is a point-in-time view of a source's scheduling state.
type SourceStatus struct {
	ID                string        `json:"id"`
	DisplayName       string        `json:"display_name"`
	Enabled           bool          `json:"enabled"`
	Interval          time.Duration `json:"interval"`
	Running           bool          `json:"running"`
	LastRunAt         *time.Time    `json:"last_run_at,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	InCooldownUntil   *time.Time    `json:"in_cooldown_until,omitempty"`
}

// FetchOptions carries per-request overrides for a Fetcher.
type FetchOptions struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

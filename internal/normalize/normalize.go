// Package normalize converts raw scraped listings into validated price
// observations. Everything here is pure: no IO, no shared state.
package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
)

// Normalizer validates raw listings against a source's currency and
// correction settings.
type Normalizer struct {
	defaultCurrency   string
	defaultCorrection scrape.CorrectionConfig
}

// New builds a Normalizer. defaultCurrency is used when a source does not
// declare one; defaultCorrection applies to sources without an override.
func New(defaultCurrency string, defaultCorrection scrape.CorrectionConfig) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = "CFA"
	}
	return &Normalizer{
		defaultCurrency:   defaultCurrency,
		defaultCorrection: defaultCorrection,
	}
}

// Normalize converts one RawListing into a Listing. ok is false when the
// entry is malformed (empty name, unparseable or non-positive price);
// malformed entries are dropped by the caller, never stored as zero.
func (n *Normalizer) Normalize(raw scrape.RawListing, source scrape.SourceConfig, observedAt time.Time) (scrape.Listing, bool) {
	name := CleanName(raw.Name)
	if name == "" {
		return scrape.Listing{}, false
	}

	price, ok := ParsePrice(raw.PriceText)
	if !ok {
		return scrape.Listing{}, false
	}

	correction := n.defaultCorrection
	if source.Correction != nil {
		correction = *source.Correction
	}
	price, _ = CorrectPrice(price, correction)

	currency := source.Currency
	if currency == "" {
		currency = n.defaultCurrency
	}

	return scrape.Listing{
		ProductName: name,
		Price:       price,
		Currency:    currency,
		ImageURL:    strings.TrimSpace(raw.ImageURL),
		SourceID:    source.ID,
		ObservedAt:  observedAt,
	}, true
}

// CleanName trims and collapses whitespace in a product name.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ParsePrice extracts a positive decimal amount from a locale-formatted
// price string such as "1 500 FCFA" or "1.500,50". Grouping separators are
// stripped; a trailing '.' or ',' followed by one or two digits is treated
// as the decimal marker. Returns ok=false for input with no digits, with an
// ambiguous marker, or with a non-positive value.
func ParsePrice(text string) (decimal.Decimal, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, text)

	if !strings.ContainsAny(cleaned, "0123456789") {
		return decimal.Decimal{}, false
	}

	normalized, ok := resolveSeparators(cleaned)
	if !ok {
		return decimal.Decimal{}, false
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, false
	}
	return value, true
}

// resolveSeparators rewrites a digits-and-separators string into plain
// decimal notation.
func resolveSeparators(s string) (string, bool) {
	lastSep := strings.LastIndexAny(s, ".,")
	if lastSep < 0 {
		return s, true
	}

	fraction := s[lastSep+1:]
	marker := s[lastSep]
	if len(fraction) >= 1 && len(fraction) <= 2 {
		// The last separator reads as a decimal marker. A second occurrence
		// of the same character makes the value ambiguous.
		if strings.Count(s, string(marker)) > 1 {
			return "", false
		}
		integerPart := stripSeparators(s[:lastSep])
		if integerPart == "" {
			integerPart = "0"
		}
		return integerPart + "." + fraction, true
	}

	// Separator followed by 3+ digits (or nothing) is a grouping character.
	return stripSeparators(s), true
}

func stripSeparators(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, ",", "")
}

// CorrectPrice applies the small-price correction when enabled and the
// value falls below the configured threshold. The second return reports
// whether the correction fired.
func CorrectPrice(price decimal.Decimal, cfg scrape.CorrectionConfig) (decimal.Decimal, bool) {
	if !cfg.Enabled || cfg.Threshold <= 0 || cfg.Multiplier <= 0 {
		return price, false
	}
	if price.GreaterThanOrEqual(decimal.NewFromFloat(cfg.Threshold)) {
		return price, false
	}
	return price.Mul(decimal.NewFromFloat(cfg.Multiplier)), true
}

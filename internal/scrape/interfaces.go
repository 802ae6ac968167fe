package scrape

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Fetcher retrieves the raw bytes of a page. Implementations return a
// *FetchError for request failures and honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, error)
}

// Extractor pulls raw listings out of fetched page content. Implementations
// return a *ExtractError when the page yields nothing usable.
type Extractor interface {
	Extract(content []byte) ([]RawListing, error)
}

// Sink persists price observations. UpsertPrice must be idempotent for the
// same (product, store, source) key: repeat observations replace, never
// duplicate.
type Sink interface {
	UpsertPrice(
		ctx context.Context,
		productName string,
		storeName string,
		price decimal.Decimal,
		currency string,
		sourceID string,
		observedAt time.Time,
	) error
}

// Clock abstracts time for scheduling decisions and observation stamps.
type Clock interface {
	Now() time.Time
}

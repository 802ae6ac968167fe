// Package selector implements a CSS-selector-driven extractor. One
// instance handles one source; the selectors come from that source's
// configuration, so adding a storefront is a config change, not code.
package selector

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
)

// Extractor pulls raw listings out of a product search results page.
type Extractor struct {
	selectors scrape.SelectorConfig
}

// New builds an Extractor for the given selectors. Container, Name and
// Price are required; Image is optional.
func New(selectors scrape.SelectorConfig) (*Extractor, error) {
	if selectors.Container == "" || selectors.Name == "" || selectors.Price == "" {
		return nil, fmt.Errorf("selector config requires container, name and price selectors")
	}
	return &Extractor{selectors: selectors}, nil
}

// Extract parses the page and returns one RawListing per matched container
// element. Returns ExtractError{EmptyResult} when nothing matches and
// ExtractError{MalformedDocument} when the content is not parseable HTML.
func (e *Extractor) Extract(content []byte) ([]scrape.RawListing, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, &scrape.ExtractError{Kind: scrape.ExtractMalformedDocument, Err: fmt.Errorf("empty document")}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &scrape.ExtractError{Kind: scrape.ExtractMalformedDocument, Err: err}
	}

	var listings []scrape.RawListing
	doc.Find(e.selectors.Container).Each(func(_ int, item *goquery.Selection) {
		raw := scrape.RawListing{
			Name:      strings.TrimSpace(item.Find(e.selectors.Name).First().Text()),
			PriceText: strings.TrimSpace(item.Find(e.selectors.Price).First().Text()),
		}
		if e.selectors.Image != "" {
			if src, ok := item.Find(e.selectors.Image).First().Attr("src"); ok {
				raw.ImageURL = src
			}
		}
		if raw.Name == "" && raw.PriceText == "" {
			return
		}
		listings = append(listings, raw)
	})

	if len(listings) == 0 {
		return nil, &scrape.ExtractError{Kind: scrape.ExtractEmptyResult}
	}
	return listings, nil
}

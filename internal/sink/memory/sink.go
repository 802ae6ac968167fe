// Package memory provides an in-memory price sink for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one stored price observation.
type Observation struct {
	ProductName string
	StoreName   string
	Price       decimal.Decimal
	Currency    string
	SourceID    string
	ObservedAt  time.Time
}

type key struct {
	product string
	store   string
	source  string
}

// Sink keeps the latest observation per (product, store, source).
type Sink struct {
	mu           sync.Mutex
	observations map[key]Observation
	failWith     error
}

// New constructs an empty Sink.
func New() *Sink {
	return &Sink{observations: make(map[key]Observation)}
}

// UpsertPrice stores or replaces the observation for the key.
func (s *Sink) UpsertPrice(
	_ context.Context,
	productName string,
	storeName string,
	price decimal.Decimal,
	currency string,
	sourceID string,
	observedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if productName == "" {
		return fmt.Errorf("product name is required")
	}
	s.observations[key{product: productName, store: storeName, source: sourceID}] = Observation{
		ProductName: productName,
		StoreName:   storeName,
		Price:       price,
		Currency:    currency,
		SourceID:    sourceID,
		ObservedAt:  observedAt,
	}
	return nil
}

// Observations returns a copy of everything stored.
func (s *Sink) Observations() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observation, 0, len(s.observations))
	for _, obs := range s.observations {
		out = append(out, obs)
	}
	return out
}

// FailWith makes subsequent upserts return err; nil restores normal
// behavior. Intended for tests.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

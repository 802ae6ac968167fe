package scrape

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchURL(t *testing.T) {
	t.Parallel()

	src := SourceConfig{SearchURLTemplate: "https://shop.example/search?q=%q&page=1"}

	require.Equal(t, "https://shop.example/search?q=phone&page=1", src.SearchURL("phone"))
	require.Equal(t, "https://shop.example/search?q=samsung+tv&page=1", src.SearchURL("samsung tv"))
	require.Equal(t, "https://shop.example/search?q=tv&page=1", src.SearchURL("  tv  "))
}

func TestRunResultAllFailed(t *testing.T) {
	t.Parallel()

	require.False(t, RunResult{}.AllFailed(), "an empty run is not a failed run")
	require.True(t, RunResult{Errors: []error{errors.New("boom")}}.AllFailed())
	require.False(t, RunResult{
		Listings: []Listing{{ProductName: "Phone X"}},
		Errors:   []error{errors.New("boom")},
	}.AllFailed(), "a partial run is not a failed run")
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	empty := fmt.Errorf("query %q: %w", "tv", &ExtractError{Kind: ExtractEmptyResult})
	malformed := error(&ExtractError{Kind: ExtractMalformedDocument, Err: errors.New("no body")})
	timeout := error(&FetchError{Kind: FetchTimeout, URL: "https://shop.example"})

	require.True(t, IsEmptyResult(empty))
	require.False(t, IsEmptyResult(malformed))
	require.True(t, IsMalformedDocument(malformed))
	require.True(t, IsTimeout(timeout))
	require.False(t, IsTimeout(errors.New("plain")))
}

func TestFetchErrorMessages(t *testing.T) {
	t.Parallel()

	statusErr := &FetchError{Kind: FetchHTTPStatus, URL: "https://shop.example", Status: 503}
	require.Contains(t, statusErr.Error(), "503")

	wrapped := errors.New("connection refused")
	netErr := &FetchError{Kind: FetchNetwork, URL: "https://shop.example", Err: wrapped}
	require.ErrorIs(t, netErr, wrapped)
}

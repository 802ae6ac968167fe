package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
)

type fakeController struct {
	running    bool
	startErr   error
	stopped    bool
	statuses   map[string]scrape.SourceStatus
	triggered  []string
	result     scrape.RunResult
	triggerErr error
}

func (f *fakeController) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() {
	f.running = false
	f.stopped = true
}

func (f *fakeController) Running() bool { return f.running }

func (f *fakeController) Status() map[string]scrape.SourceStatus {
	return f.statuses
}

func (f *fakeController) ManualTrigger(_ context.Context, sourceID, query string) (scrape.RunResult, error) {
	f.triggered = append(f.triggered, sourceID+"/"+query)
	if f.triggerErr != nil {
		return scrape.RunResult{}, f.triggerErr
	}
	return f.result, nil
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeController{}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeController{}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusSortsSources(t *testing.T) {
	t.Parallel()

	last := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ctrl := &fakeController{
		running: true,
		statuses: map[string]scrape.SourceStatus{
			"zshop":     {ID: "zshop", Enabled: true},
			"carrefour": {ID: "carrefour", Enabled: true, LastRunAt: &last, ConsecutiveErrors: 2},
		},
	}
	srv := NewServer(ctrl, nil)
	rec := doRequest(t, srv, http.MethodGet, "/api/scraper/", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Running)
	require.Len(t, resp.Sources, 2)
	require.Equal(t, "carrefour", resp.Sources[0].ID)
	require.Equal(t, "zshop", resp.Sources[1].ID)
	require.Equal(t, 2, resp.Sources[0].ConsecutiveErrors)
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	srv := NewServer(ctrl, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/scraper/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ctrl.running)

	rec = doRequest(t, srv, http.MethodPost, "/api/scraper/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ctrl.stopped)

	// Stopping again conflicts: nothing is running anymore.
	rec = doRequest(t, srv, http.MethodPost, "/api/scraper/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartConflict(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{startErr: errors.New("scheduler already started")}
	srv := NewServer(ctrl, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/scraper/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already started")
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{
		result: scrape.RunResult{
			SourceID: "carrefour",
			Listings: []scrape.Listing{{
				ProductName: "Phone X",
				Price:       decimal.NewFromInt(120000),
				Currency:    "CFA",
				SourceID:    "carrefour",
			}},
			Dropped: 1,
		},
	}
	srv := NewServer(ctrl, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/scraper/trigger",
		`{"source_id":"carrefour","query":"phone"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"carrefour/phone"}, ctrl.triggered)

	var resp triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "carrefour", resp.SourceID)
	require.Equal(t, 1, resp.Found)
	require.Equal(t, 1, resp.Dropped)
	require.Empty(t, resp.Errors)
}

func TestTriggerValidation(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeController{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/scraper/trigger", `{"query":"phone"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/scraper/trigger", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerConflict(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{triggerErr: errors.New(`source "carrefour" is already running`)}
	srv := NewServer(ctrl, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/scraper/trigger",
		`{"source_id":"carrefour"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already running")
}

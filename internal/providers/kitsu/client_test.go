package kitsu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/ratehttp"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	rc := ratehttp.New(map[string]time.Duration{u.Hostname(): time.Millisecond}, time.Millisecond)
	c := New(rc)
	c.baseURL = srv.URL
	c.host = u.Hostname()
	return c
}

func TestSearchSeriesPrefersEnglishTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"42","attributes":{"titles":{"en":"Example Anime","en_jp":"Ex Anime","ja_jp":"エグザンプル"},"canonicalTitle":"Ex Anime","startDate":"2012-04-01","subtype":"TV"}}]}`))
	})

	cand, err := c.SearchSeries(context.Background(), "example anime", providers.SearchOpts{})
	if err != nil {
		t.Fatalf("SearchSeries: %v", err)
	}
	if cand == nil || cand.ID != "42" || cand.TitleExact != "Example Anime" || cand.Year != "2012" {
		t.Fatalf("unexpected candidate: %+v", cand)
	}
	if cand.IsMovie == nil || *cand.IsMovie {
		t.Fatalf("expected IsMovie=false for TV subtype")
	}
}

func TestSearchSeriesNoResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	cand, err := c.SearchSeries(context.Background(), "nonexistent", providers.SearchOpts{})
	if err != nil {
		t.Fatalf("SearchSeries: %v", err)
	}
	if cand != nil {
		t.Fatalf("cand = %+v, want nil", cand)
	}
}

func TestFetchEpisodeFiltersToRequestedNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"attributes":{"titles":{"en":"The Episode Title"},"number":3,"airdate":"2013-06-01"}}]}`))
	})

	hit, err := c.FetchEpisode(context.Background(), "42", 1, 3, providers.FetchOpts{})
	if err != nil {
		t.Fatalf("FetchEpisode: %v", err)
	}
	if hit == nil || hit.Title != "The Episode Title" || hit.Year != "2013" {
		t.Fatalf("unexpected hit: %+v", hit)
	}
}

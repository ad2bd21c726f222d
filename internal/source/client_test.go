package source_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/circuitbreaker"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
)

const testPlatforms = `
platforms:
  - name: testsite
    search:
      page_pattern: "-pagina-{page}"
      card_selector: "div.card"
      link_selector: "a.go"
      id_attr: data-id
      link_pattern: '/propiedades/'
      total_selector: "h1.total"
      total_pages_pattern: '"totalPages"\s*:\s*(\d+)'
    listing:
      external_id_pattern: '-(\d+)\.html'
`

const searchPage = `<html><head><title>Casas</title></head><body>
<h1 class="total">954 propiedades</h1>
<div class="card" data-id="101"><a class="go" href="/propiedades/casa-uno-101.html">Casa uno</a></div>
<div class="card" data-id="102"><a class="go" href="/propiedades/casa-dos-102.html#fotos">Casa dos</a></div>
<div class="card" data-id="102"><a class="go" href="/propiedades/casa-dos-102.html">Casa dos otra vez</a></div>
<div class="card"><a class="go" href="/propiedades/casa-tres-103.html">Casa tres</a></div>
<script>window.paging = {"totalPages": 5};</script>
</body></html>`

type registry map[string]*platform.Definition

func (r registry) Get(name string) (*platform.Definition, error) {
	def, ok := r[name]
	if !ok {
		return nil, platform.ErrUnknownPlatform
	}
	return def, nil
}

func newTestClient(t *testing.T, cfg source.Config) *source.Client {
	t.Helper()
	defs, err := platform.Parse([]byte(testPlatforms))
	require.NoError(t, err)
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1000
		cfg.Burst = 10
	}
	return source.NewClient(cfg, registry(defs), infralogger.NewNop())
}

func TestDiscoverPage_FirstPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/venta.html", r.URL.Path)
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	client := newTestClient(t, source.Config{})
	page, err := client.DiscoverPage(context.Background(), "testsite", srv.URL+"/venta.html", 1)
	require.NoError(t, err)

	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 954, page.TotalResults)
	assert.Equal(t, 5, page.TotalPages)
	require.Len(t, page.Listings, 3)
	assert.Equal(t, srv.URL+"/propiedades/casa-uno-101.html", page.Listings[0].URL)
	assert.Equal(t, "101", page.Listings[0].ExternalID)
	assert.Equal(t, srv.URL+"/propiedades/casa-dos-102.html", page.Listings[1].URL, "fragment dropped and duplicate collapsed")
	assert.Equal(t, "103", page.Listings[2].ExternalID, "id falls back to the URL pattern")
}

func TestDiscoverPage_LaterPageUsesPagePattern(t *testing.T) {
	t.Parallel()

	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	client := newTestClient(t, source.Config{})
	page, err := client.DiscoverPage(context.Background(), "testsite", srv.URL+"/venta.html", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, "/venta-pagina-3.html", path.Load())
}

func TestFetchListing_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, source.Config{MaxAttempts: 3})
	_, err := client.FetchListing(context.Background(), "testsite", srv.URL+"/propiedades/x-1.html")
	require.Error(t, err)
	assert.Equal(t, failure.KindNotFound, failure.Classify(err))

	var statusErr *failure.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchListing_RetriesUpstreamErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	client := newTestClient(t, source.Config{MaxAttempts: 3})
	page, err := client.FetchListing(context.Background(), "testsite", srv.URL+"/propiedades/x-1.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "<title>ok</title>")
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchListing_BreakerOpensPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, source.Config{MaxAttempts: 1, BreakerFailures: 2})
	for range 2 {
		_, err := client.FetchListing(context.Background(), "testsite", srv.URL+"/propiedades/x-1.html")
		require.Error(t, err)
		assert.Equal(t, failure.KindUpstream, failure.Classify(err))
	}

	_, err := client.FetchListing(context.Background(), "testsite", srv.URL+"/propiedades/x-1.html")
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load(), "open circuit short-circuits the request")
}

func TestFetchListing_UnknownPlatform(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, source.Config{})
	_, err := client.FetchListing(context.Background(), "nope", "https://example.com/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrUnknownPlatform))
	assert.Equal(t, failure.KindInternal, failure.Classify(err))
}

func TestParseSearchPage_FallsBackToAnchors(t *testing.T) {
	t.Parallel()

	defs, err := platform.Parse([]byte(testPlatforms))
	require.NoError(t, err)

	body := []byte(`<html><body>
<a href="/ayuda">Ayuda</a>
<a href="/propiedades/depto-7.html">Depto</a>
<a href="https://other.example.com/propiedades/lote-8.html">Lote</a>
</body></html>`)
	page, err := source.ParseSearchPage(defs["testsite"], "https://site.example.com/venta.html", body)
	require.NoError(t, err)

	require.Len(t, page.Listings, 2)
	assert.Equal(t, "https://site.example.com/propiedades/depto-7.html", page.Listings[0].URL)
	assert.Equal(t, "7", page.Listings[0].ExternalID)
	assert.Equal(t, 1, page.TotalPages, "a page with listings and no pagination is one page")
	assert.Equal(t, 2, page.TotalResults)
}

package angel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const giftCodePage = `<html><body>
<h1>Whiteout Survival Gift Codes</h1>
<table>
  <tr><th>Code</th><th>Description</th><th>Rewards</th><th>Expires</th></tr>
  <tr><td>WOSNEWYEAR</td><td>New year</td><td>500   Gems,
      2 Speedups</td><td>2099-01-01</td></tr>
  <tr><td>WOSDESC</td><td>Furnace boost</td><td></td><td></td></tr>
  <tr><td>WOSNEWYEAR</td><td>duplicate</td><td>nothing</td><td></td></tr>
  <tr><td>not</td><td>a code row</td></tr>
</table>
</body></html>`

func newGiftCodeServer(t testing.TB, handler http.HandlerFunc) *GiftCodeConfig {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultTestConfig(t).GiftCodes
	cfg.URL = srv.URL
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestGiftCodeScraper_Fetch(t *testing.T) {
	t.Parallel()
	userAgent := make(chan string, 1)
	cfg := newGiftCodeServer(
		t, func(w http.ResponseWriter, r *http.Request) {
			userAgent <- r.Header.Get("User-Agent")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprint(w, giftCodePage)
		},
	)
	cfg.UserAgent = "angel-test"

	codes, err := NewGiftCodeScraper(cfg, nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(
		t,
		[]GiftCode{
			{
				Code:        "WOSNEWYEAR",
				Description: "New year",
				Rewards:     "500 Gems, 2 Speedups",
				Expiry:      "2099-01-01",
			},
			{
				Code:        "WOSDESC",
				Description: "Furnace boost",
				Rewards:     "Furnace boost",
				Expiry:      giftCodeExpiryUnknown,
			},
		},
		codes,
	)
	assert.Equal(t, "angel-test", <-userAgent)
}

func TestGiftCodeScraper_ServerError(t *testing.T) {
	t.Parallel()
	cfg := newGiftCodeServer(
		t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	)

	_, err := NewGiftCodeScraper(cfg, nil).Fetch(context.Background())
	require.Error(t, err)
	var externalErr *ExternalError
	require.True(t, errors.As(err, &externalErr))
	assert.Equal(t, serviceNameGiftCodes, externalErr.Service)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorContains(t, err, "500")
}

func TestGiftCodeScraper_Timeout(t *testing.T) {
	t.Parallel()
	cfg := newGiftCodeServer(
		t, func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	)
	cfg.Timeout = 100 * time.Millisecond

	_, err := NewGiftCodeScraper(cfg, nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestGiftCodeScraper_ExpiredContext(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t).GiftCodes
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := NewGiftCodeScraper(cfg, nil).Fetch(ctx)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestGiftCode_Active(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expiry string
		active bool
	}{
		{expiry: giftCodeExpiryUnknown, active: true},
		{expiry: "", active: true},
		{expiry: "Expired", active: false},
		{expiry: "2025-05-31", active: false},
		{expiry: "2025-06-02", active: true},
		{expiry: "June 30, 2025", active: true},
		{expiry: "Jan 2, 2025", active: false},
		{expiry: "06/15/2025", active: true},
		{expiry: "while supplies last", active: true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.active, GiftCode{Code: "X", Expiry: tc.expiry}.Active(now), tc.expiry)
	}
}

// countingFetcher counts calls, returning whatever codes and err
// are set at the time
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	codes []GiftCode
	err   error
}

func (f *countingFetcher) Fetch(context.Context) ([]GiftCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.codes, f.err
}

func (f *countingFetcher) set(codes []GiftCode, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes, f.err = codes, err
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestGiftCodeCache(t testing.TB, fetcher GiftCodeFetcher) (*GiftCodeCache, *time.Time) {
	t.Helper()
	cfg := DefaultTestConfig(t).GiftCodes
	cfg.CacheTTL = 10 * time.Minute
	cache := NewGiftCodeCache(fetcher, cfg, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestGiftCodeCache_TTL(t *testing.T) {
	t.Parallel()
	fetcher := &countingFetcher{codes: []GiftCode{{Code: "WOSONE", Expiry: giftCodeExpiryUnknown}}}
	cache, now := newTestGiftCodeCache(t, fetcher)
	ctx := context.Background()

	list := cache.Active(ctx)
	assert.Equal(t, 1, fetcher.Calls())
	require.Len(t, list.Codes, 1)
	assert.Equal(t, "WOSONE", list.Codes[0].Code)
	assert.Equal(t, *now, list.FetchedAt)
	assert.False(t, list.Fallback)

	*now = now.Add(5 * time.Minute)
	cache.Active(ctx)
	assert.Equal(t, 1, fetcher.Calls())

	*now = now.Add(6 * time.Minute)
	fetcher.set([]GiftCode{{Code: "WOSTWO", Expiry: giftCodeExpiryUnknown}}, nil)
	list = cache.Active(ctx)
	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, "WOSTWO", list.Codes[0].Code)
}

func TestGiftCodeCache_FailedRefreshKeepsCodes(t *testing.T) {
	t.Parallel()
	fetcher := &countingFetcher{codes: []GiftCode{{Code: "WOSREAL", Expiry: giftCodeExpiryUnknown}}}
	cache, now := newTestGiftCodeCache(t, fetcher)
	ctx := context.Background()

	fetchedAt := *now
	cache.Active(ctx)
	fetcher.set(nil, &ExternalError{Service: serviceNameGiftCodes, Err: ErrUpstreamUnavailable})
	*now = now.Add(time.Hour)

	list := cache.Active(ctx)
	assert.Equal(t, 2, fetcher.Calls())
	require.Len(t, list.Codes, 1)
	assert.Equal(t, "WOSREAL", list.Codes[0].Code)
	assert.False(t, list.Fallback)
	assert.Equal(t, fetchedAt, list.FetchedAt)

	// the failed attempt counts towards the TTL
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		list = cache.Active(ctx)
	}
	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, "WOSREAL", list.Codes[0].Code)

	*now = now.Add(10 * time.Minute)
	cache.Active(ctx)
	assert.Equal(t, 3, fetcher.Calls())
}

func TestGiftCodeCache_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run(
		"source down", func(t *testing.T) {
			fetcher := &countingFetcher{err: &ExternalError{Service: serviceNameGiftCodes, Err: ErrUpstreamTimeout}}
			cache, _ := newTestGiftCodeCache(t, fetcher)
			list := cache.Active(ctx)
			assert.True(t, list.Fallback)
			assert.Equal(t, fallbackGiftCodes, list.Codes)

			// the fallback is cached for the TTL too
			cache.Active(ctx)
			assert.Equal(t, 1, fetcher.Calls())
		},
	)

	t.Run(
		"everything expired", func(t *testing.T) {
			fetcher := &countingFetcher{codes: []GiftCode{{Code: "WOSOLD", Expiry: "2020-01-01"}}}
			cache, _ := newTestGiftCodeCache(t, fetcher)
			list := cache.Active(ctx)
			assert.True(t, list.Fallback)
			assert.Equal(t, "OFFICIALSTORE", list.Codes[0].Code)
		},
	)

	t.Run(
		"expired codes are filtered", func(t *testing.T) {
			fetcher := &countingFetcher{
				codes: []GiftCode{
					{Code: "WOSOLD", Expiry: "2020-01-01"},
					{Code: "WOSNEW", Expiry: "2099-01-01"},
				},
			}
			cache, _ := newTestGiftCodeCache(t, fetcher)
			list := cache.Active(ctx)
			assert.False(t, list.Fallback)
			require.Len(t, list.Codes, 1)
			assert.Equal(t, "WOSNEW", list.Codes[0].Code)
		},
	)
}

func TestGiftCodeCache_Schedule(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t).GiftCodes

	cfg.RefreshSchedule = ""
	cache := NewGiftCodeCache(&countingFetcher{}, cfg, nil)
	require.NoError(t, cache.Start(context.Background()))
	select {
	case <-cache.Stop().Done():
	default:
		t.Fatal("expected an already-done context")
	}

	cfg.RefreshSchedule = "every now and then"
	cache = NewGiftCodeCache(&countingFetcher{}, cfg, nil)
	assert.ErrorContains(t, cache.Start(context.Background()), "invalid gift code refresh schedule")

	fetcher := &countingFetcher{codes: []GiftCode{{Code: "WOSCRON"}}}
	cfg.RefreshSchedule = "@every 1s"
	cache = NewGiftCodeCache(fetcher, cfg, nil)
	require.NoError(t, cache.Start(context.Background()))
	require.Eventually(
		t, func() bool {
			return fetcher.Calls() > 0
		}, 5*time.Second, 50*time.Millisecond,
	)
	<-cache.Stop().Done()
}

package angel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	serviceNameGiftCodes  = "gift code source"
	giftCodeExpiryUnknown = "Unknown"
	giftCodeEmbedColor    = 0xffd700
	giftCodeMaxShown      = 10
)

// giftCodeHeaderWords are header cell values, which mark a row that
// isn't a code
var giftCodeHeaderWords = []string{"CODE", "DESCRIPTION", "REWARDS", "EXPIRES"}

// giftCodeExpiryLayouts are the date formats seen in the expiry column
var giftCodeExpiryLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"01/02/2006",
}

// fallbackGiftCodes is served when the source can't be reached or
// lists nothing. OFFICIALSTORE doesn't expire.
var fallbackGiftCodes = []GiftCode{
	{
		Code:        "OFFICIALSTORE",
		Description: "Official Store Code",
		Rewards: "1K Gems, 2 Mythic Shards, 2 Mythic Expedition+Exploration Manuals, " +
			"1 Lucky Hero Gear Chest, 50K Hero XP, 8 Hr Speed",
		Expiry: giftCodeExpiryUnknown,
	},
}

// GiftCode is one redeemable code as listed by the source
type GiftCode struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Rewards     string `json:"rewards"`
	Expiry      string `json:"expiry"`
}

// ExpiresAt parses Expiry. ok is false when it isn't a recognisable date.
func (g GiftCode) ExpiresAt() (t time.Time, ok bool) {
	s := strings.TrimSpace(g.Expiry)
	for _, layout := range giftCodeExpiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Active reports whether the code is still usable at now. Codes with an
// expiry we can't parse are assumed active, unless marked expired.
func (g GiftCode) Active(now time.Time) bool {
	if strings.EqualFold(strings.TrimSpace(g.Expiry), "expired") {
		return false
	}
	expires, ok := g.ExpiresAt()
	if !ok {
		return true
	}
	return expires.After(now)
}

// activeGiftCodes filters out expired codes, keeping the source order
func activeGiftCodes(codes []GiftCode, now time.Time) []GiftCode {
	active := make([]GiftCode, 0, len(codes))
	for _, c := range codes {
		if c.Active(now) {
			active = append(active, c)
		}
	}
	return active
}

// GiftCodeScraper reads the code table(s) from the gift code site
type GiftCodeScraper struct {
	config *GiftCodeConfig
	logger *slog.Logger
}

func NewGiftCodeScraper(config *GiftCodeConfig, logger *slog.Logger) *GiftCodeScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &GiftCodeScraper{config: config, logger: logger}
}

// Fetch scrapes every table row with at least three cells. The columns
// are code, description, rewards and (optionally) expiry.
func (g *GiftCodeScraper) Fetch(ctx context.Context) ([]GiftCode, error) {
	timeout := g.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, &ExternalError{
			Service: serviceNameGiftCodes,
			Err:     fmt.Errorf("%w: %w", ErrUpstreamTimeout, context.DeadlineExceeded),
		}
	}

	c := colly.NewCollector()
	if g.config.UserAgent != "" {
		c.UserAgent = g.config.UserAgent
	}
	c.SetRequestTimeout(timeout)

	var codes []GiftCode
	seen := map[string]bool{}
	c.OnHTML(
		"table tr", func(e *colly.HTMLElement) {
			var cells []string
			e.ForEach(
				"td, th", func(_ int, cell *colly.HTMLElement) {
					cells = append(cells, strings.Join(strings.Fields(cell.Text), " "))
				},
			)
			if len(cells) < 3 {
				return
			}
			code := cells[0]
			if code == "" || slices.Contains(giftCodeHeaderWords, strings.ToUpper(code)) {
				return
			}
			if seen[code] {
				return
			}
			seen[code] = true

			gc := GiftCode{
				Code:        code,
				Description: cells[1],
				Rewards:     cells[2],
				Expiry:      giftCodeExpiryUnknown,
			}
			if gc.Rewards == "" {
				gc.Rewards = gc.Description
			}
			if len(cells) > 3 && cells[3] != "" {
				gc.Expiry = cells[3]
			}
			codes = append(codes, gc)
		},
	)

	var scrapeErr error
	c.OnError(
		func(r *colly.Response, err error) {
			scrapeErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
		},
	)

	started := time.Now()
	if err := c.Visit(g.config.URL); err != nil && scrapeErr == nil {
		scrapeErr = err
	}
	if scrapeErr != nil {
		return nil, classifyScrapeError(scrapeErr)
	}
	contextLoggerOr(ctx, g.logger).InfoContext(
		ctx,
		"fetched gift codes",
		"url", g.config.URL,
		"count", len(codes),
		"elapsed", time.Since(started),
	)
	return codes, nil
}

func classifyScrapeError(err error) error {
	if strings.Contains(err.Error(), "Client.Timeout") ||
		strings.Contains(err.Error(), "deadline exceeded") {
		return &ExternalError{Service: serviceNameGiftCodes, Err: fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)}
	}
	return classifyUpstreamError(serviceNameGiftCodes, err)
}

// GiftCodeFetcher is implemented by [GiftCodeScraper]
type GiftCodeFetcher interface {
	Fetch(ctx context.Context) ([]GiftCode, error)
}

// GiftCodeCache holds the last successful scrape for CacheTTL. Stale
// reads trigger a refresh, and concurrent refreshes are collapsed into
// one request.
type GiftCodeCache struct {
	fetcher  GiftCodeFetcher
	ttl      time.Duration
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	codes     []GiftCode
	fetchedAt time.Time
	fallback  bool

	// checkedAt is the last refresh attempt, successful or not. The TTL
	// runs from here, so a failing source isn't hit on every read.
	checkedAt time.Time

	group singleflight.Group
	cron  *cron.Cron
}

func NewGiftCodeCache(
	fetcher GiftCodeFetcher,
	config *GiftCodeConfig,
	logger *slog.Logger,
) *GiftCodeCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GiftCodeCache{
		fetcher:  fetcher,
		ttl:      config.CacheTTL,
		schedule: config.RefreshSchedule,
		logger:   logger,
		now:      time.Now,
	}
}

// GiftCodeList is a snapshot of the cache
type GiftCodeList struct {
	Codes     []GiftCode `json:"codes"`
	FetchedAt time.Time  `json:"fetched_at"`

	// Fallback is set when the source failed and the built-in codes
	// are being served instead
	Fallback bool `json:"fallback"`
}

// Active returns the currently active codes, refreshing first when the
// cache is empty or older than the TTL.
func (g *GiftCodeCache) Active(ctx context.Context) GiftCodeList {
	g.mu.RLock()
	fresh := !g.checkedAt.IsZero() && (g.ttl <= 0 || g.now().Sub(g.checkedAt) < g.ttl)
	g.mu.RUnlock()

	if !fresh {
		g.Refresh(ctx)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return GiftCodeList{
		Codes:     activeGiftCodes(g.codes, g.now()),
		FetchedAt: g.fetchedAt,
		Fallback:  g.fallback,
	}
}

// Refresh re-fetches the codes. When the source fails or lists no
// active codes, the fallback codes are used. A failed refresh doesn't
// replace previously fetched real codes.
func (g *GiftCodeCache) Refresh(ctx context.Context) {
	_, _, _ = g.group.Do(
		"refresh", func() (any, error) {
			logger := contextLoggerOr(ctx, g.logger)
			codes, err := g.fetcher.Fetch(ctx)
			now := g.now()

			g.mu.Lock()
			defer g.mu.Unlock()
			g.checkedAt = now

			switch {
			case err != nil:
				logger.WarnContext(ctx, "gift code refresh failed", tint.Err(err))
				if len(g.codes) > 0 && !g.fallback {
					return nil, err
				}
				g.codes, g.fallback = fallbackGiftCodes, true
			case len(activeGiftCodes(codes, now)) == 0:
				logger.InfoContext(ctx, "no active gift codes listed, using fallback")
				g.codes, g.fallback = fallbackGiftCodes, true
			default:
				g.codes, g.fallback = codes, false
			}
			g.fetchedAt = now
			return nil, err
		},
	)
}

// Start refreshes the cache on the configured cron schedule. An empty
// schedule disables background refreshes.
func (g *GiftCodeCache) Start(ctx context.Context) error {
	if g.schedule == "" {
		return nil
	}
	logger := cronLogger{logger: g.logger}
	g.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := g.cron.AddFunc(g.schedule, func() { g.Refresh(ctx) }); err != nil {
		return fmt.Errorf("invalid gift code refresh schedule %q: %w", g.schedule, err)
	}
	g.cron.Start()
	return nil
}

// Stop halts background refreshes, returning a context that's done once
// any running refresh finishes
func (g *GiftCodeCache) Stop() context.Context {
	if g.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return g.cron.Stop()
}

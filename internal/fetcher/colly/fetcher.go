// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// Placeholders substituted into the URL template.
const (
	PagePlaceholder     = "{page}"
	PageSizePlaceholder = "{page_size}"
)

const defaultTimeout = 15 * time.Second

var errMissingPagePlaceholder = errors.New("url template must contain " + PagePlaceholder)

// Config controls collector behavior.
type Config struct {
	URLTemplate   string
	PageSize      int
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Transport overrides the pooled default transport. Tests use it to
	// inject failures.
	Transport http.RoundTripper
	// Limiter paces requests. Nil never waits.
	Limiter Limiter
	Logger  *zap.Logger
}

// Limiter blocks until a request to url may start.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The base collector carries the shared transport,
// timeout and robots cache; each Fetch works on a clone of it.
func New(cfg Config) (*Fetcher, error) {
	if !strings.Contains(cfg.URLTemplate, PagePlaceholder) {
		return nil, errMissingPagePlaceholder
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)

	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport, logger: cfg.Logger}
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}, nil
}

// PageURL renders the listing URL for a page number.
func (f *Fetcher) PageURL(page int) string {
	return strings.NewReplacer(
		PageSizePlaceholder, strconv.Itoa(f.cfg.PageSize),
		PagePlaceholder, strconv.Itoa(page),
	).Replace(f.cfg.URLTemplate)
}

// Fetch retrieves one listing page. Only a 200 OK marks the page present;
// other statuses and transport failures yield an absent page and a nil
// error. The error is non-nil only when ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, page int) (crawler.Page, error) {
	target := f.PageURL(page)
	if err := ctx.Err(); err != nil {
		return crawler.Page{Number: page, URL: target}, fmt.Errorf("fetch page %d: %w", page, err)
	}

	result := crawler.Page{Number: page, URL: target}
	var fetchErr error
	start := time.Now()

	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, target); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("fetch page %d: %w", page, ctxErr)
			}
			result.Err = err
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	visitErr := collector.Visit(target)
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return crawler.Page{Number: page, URL: target, Duration: result.Duration},
			fmt.Errorf("fetch page %d: %w", page, err)
	}
	switch {
	case fetchErr != nil:
		result.Err = fetchErr
	case visitErr != nil:
		result.Err = visitErr
	}
	result.Present = result.Err == nil && result.StatusCode == http.StatusOK
	if !result.Present {
		result.Markup = nil
		f.cfg.Logger.Debug("page absent",
			zap.Int("page", page),
			zap.Int("status", result.StatusCode),
			zap.Error(result.Err),
		)
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *crawler.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Markup = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

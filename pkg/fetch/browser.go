package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"

	"page-harvester/pkg/config"
	"page-harvester/pkg/utils"
)

// Result is the raw outcome of rendering a single page.
type Result struct {
	HTML     string
	FinalURL string
	Title    string
}

// PageFetcher renders pages. Implemented by BrowserFetcher; the crawler
// depends on the interface so tests can substitute a fake.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Result, error)
	Close()
}

// BrowserFetcher manages the global browser lifecycle and the page pool.
// It is safe for concurrent use.
type BrowserFetcher struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	cfg         *config.CrawlConfig
	log         *logrus.Entry
	activePages atomic.Int32
}

// NewBrowserFetcher launches a headless browser and initialises the
// reusable page pool.
func NewBrowserFetcher(cfg *config.CrawlConfig, logger *logrus.Entry) (*BrowserFetcher, error) {
	headless := true
	if cfg.Browser.Headless != nil {
		headless = *cfg.Browser.Headless
	}

	l := launcher.New().
		Headless(headless).
		NoSandbox(cfg.Browser.NoSandbox)

	if cfg.Browser.BrowserBin != "" {
		l = l.Bin(cfg.Browser.BrowserBin)
	}
	if cfg.Proxy.URL != "" {
		l = l.Proxy(cfg.Proxy.URL)
	}

	// Flags that mask the most common automation tells
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch browser: %w", utils.ErrNavigation, err)
	}
	logger.WithField("control_url", controlURL).Info("Browser launched")

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to browser: %w", utils.ErrNavigation, err)
	}

	pool := rod.NewPagePool(cfg.Browser.MaxPages)
	logger.WithField("max_pages", cfg.Browser.MaxPages).Info("Page pool created")

	return &BrowserFetcher{
		browser:  browser,
		pagePool: pool,
		cfg:      cfg,
		log:      logger,
	}, nil
}

// Fetch renders pageURL and returns its final DOM. The whole operation is
// bounded by page_ready_timeout + settle_delay: navigation and the load
// wait must finish within the ready timeout, then the page gets the fixed
// settle delay for late-running scripts before the DOM is captured.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	opCtx, cancel := context.WithTimeout(ctx, f.cfg.PageReadyTimeout+f.cfg.SettleDelay)
	defer cancel()

	f.activePages.Add(1)
	defer f.activePages.Add(-1)

	page, acquireErr := f.pagePool.Get(func() (*rod.Page, error) {
		return f.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return nil, fmt.Errorf("%w: failed to acquire page from pool: %w", utils.ErrNavigation, acquireErr)
	}

	// Cleanup uses the original page reference (without the request
	// context) so the tab returns to the pool even after a timeout.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			f.log.Warnf("Cleanup: failed to navigate to about:blank: %v", navErr)
		}
		f.pagePool.Put(page)
	}()

	// Stealth JS must be installed before navigation to take effect
	if f.cfg.Browser.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			f.log.Warnf("Stealth injection failed, proceeding without stealth: %v", evalErr)
		}
	}

	if f.cfg.UserAgent != "" {
		if uaErr := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); uaErr != nil {
			f.log.Warnf("Failed to set user agent: %v", uaErr)
		}
	}

	p := page.Context(opCtx)

	readyCtx, readyCancel := context.WithTimeout(opCtx, f.cfg.PageReadyTimeout)
	pr := page.Context(readyCtx)
	if navErr := pr.Navigate(pageURL); navErr != nil {
		readyCancel()
		return nil, classifyFetchError(navErr, "navigation failed")
	}
	if loadErr := pr.WaitLoad(); loadErr != nil {
		readyCancel()
		return nil, classifyFetchError(loadErr, "page never became ready")
	}
	readyCancel()

	// Fixed settle delay for late-running scripts
	select {
	case <-time.After(f.cfg.SettleDelay):
	case <-opCtx.Done():
		return nil, classifyFetchError(opCtx.Err(), "cancelled during settle delay")
	}

	html, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, classifyFetchError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = pageURL
	}

	return &Result{
		HTML:     html,
		FinalURL: finalURL,
		Title:    title,
	}, nil
}

// ActivePages reports how many tabs are currently rendering.
func (f *BrowserFetcher) ActivePages() int {
	return int(f.activePages.Load())
}

// Close drains the page pool and kills the browser process.
// Call this on shutdown to prevent zombie Chrome processes.
func (f *BrowserFetcher) Close() {
	f.log.Info("Browser fetcher shutting down: draining page pool")
	f.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	f.log.Info("Browser fetcher shutting down: closing browser")
	if err := f.browser.Close(); err != nil {
		f.log.Warnf("Error closing browser: %v", err)
	}
	f.log.Info("Browser fetcher shutdown complete")
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// classifyFetchError wraps raw rod/context errors with the matching
// sentinel so callers and the error records see a stable category.
func classifyFetchError(err error, msg string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", utils.ErrPageTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", utils.ErrNavigation, msg, err)
	}
}

package config

import (
	"fmt"
	"time"

	"page-harvester/pkg/utils"
)

// Validate checks CrawlConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
//
// The only fatal condition is an empty start_urls list: it aborts the run
// before any fetch is attempted.
func (c *CrawlConfig) Validate() (warnings []string, err error) {
	// Required: StartURLs
	if len(c.StartURLs) == 0 {
		return nil, fmt.Errorf("%w: no start_urls provided", utils.ErrConfigValidation)
	}

	// MaxConcurrency
	if c.MaxConcurrency <= 0 {
		warnings = append(warnings, "max_concurrency should be > 0, defaulting to 5")
		c.MaxConcurrency = 5
	}

	// MaxItems
	if c.MaxItems <= 0 {
		warnings = append(warnings, "max_items should be > 0, defaulting to 1000")
		c.MaxItems = 1000
	}

	// OutputFormat is informational only; normalize the default label
	if c.OutputFormat == "" {
		c.OutputFormat = "json"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './harvester_state'")
		c.StateDir = "./harvester_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// PageReadyTimeout
	if c.PageReadyTimeout <= 0 {
		c.PageReadyTimeout = 30 * time.Second
	}

	// SettleDelay
	if c.SettleDelay < 0 {
		warnings = append(warnings, "settle_delay cannot be negative, setting to 0")
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}

	// Browser settings
	c.validateBrowserSettings(&warnings)

	// UserAgent (robots gate only; the browser sends its own)
	if c.UserAgent == "" {
		c.UserAgent = "page-harvester"
	}

	return warnings, nil
}

// validateBrowserSettings applies defaults to browser settings.
func (c *CrawlConfig) validateBrowserSettings(warnings *[]string) {
	b := &c.Browser
	if b.Headless == nil {
		headless := true
		b.Headless = &headless
	}
	if b.MaxPages <= 0 {
		b.MaxPages = c.MaxConcurrency
	}
	if b.MaxPages < c.MaxConcurrency {
		*warnings = append(*warnings, fmt.Sprintf(
			"browser.max_pages (%d) < max_concurrency (%d), raising to match",
			b.MaxPages, c.MaxConcurrency))
		b.MaxPages = c.MaxConcurrency
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"page-harvester/pkg/utils"
)

func validConfig() CrawlConfig {
	return CrawlConfig{
		StartURLs: []string{"https://example.com"},
	}
}

func TestValidate_EmptyStartURLsIsFatal(t *testing.T) {
	cfg := CrawlConfig{}
	warnings, err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Empty(t, warnings)
}

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg := validConfig()
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings) // concurrency/items/state_dir defaults warn

	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 1000, cfg.MaxItems)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, "./harvester_state", cfg.StateDir)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.PageReadyTimeout)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, "page-harvester", cfg.UserAgent)

	require.NotNil(t, cfg.Browser.Headless)
	assert.True(t, *cfg.Browser.Headless)
	assert.Equal(t, cfg.MaxConcurrency, cfg.Browser.MaxPages)
}

func TestValidate_KeepsExplicitValues(t *testing.T) {
	headless := false
	cfg := CrawlConfig{
		StartURLs:        []string{"https://example.com", "https://example.org"},
		MaxConcurrency:   2,
		MaxItems:         10,
		OutputFormat:     "csv",
		EnableAnalytics:  true,
		DataQualityCheck: true,
		Browser:          BrowserConfig{Headless: &headless, MaxPages: 4},
		StateDir:         "/tmp/state",
		MaxRetries:       1,
		PageReadyTimeout: 5 * time.Second,
		SettleDelay:      100 * time.Millisecond,
	}
	_, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 10, cfg.MaxItems)
	assert.Equal(t, "csv", cfg.OutputFormat)
	assert.False(t, *cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Browser.MaxPages)
	assert.Equal(t, 5*time.Second, cfg.PageReadyTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.SettleDelay)
}

func TestValidate_NegativeRetriesClamped(t *testing.T) {
	cfg := validConfig()
	cfg.MaxRetries = -3
	cfg.InitialRetryDelay = 1 * time.Second // suppress the retries-unset default
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Contains(t, warnings, "max_retries cannot be negative, setting to 0")
	assert.Equal(t, 0, cfg.MaxRetries)
}

func TestValidate_InitialDelayCappedByMax(t *testing.T) {
	cfg := validConfig()
	cfg.MaxRetries = 2
	cfg.InitialRetryDelay = 1 * time.Minute
	cfg.MaxRetryDelay = 10 * time.Second
	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay)
}

func TestValidate_PoolSmallerThanConcurrencyRaised(t *testing.T) {
	cfg := validConfig()
	cfg.MaxConcurrency = 8
	cfg.Browser.MaxPages = 3
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Browser.MaxPages)
	assert.NotEmpty(t, warnings)
}

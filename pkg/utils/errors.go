package utils

import (
	"context"
	"errors"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrConfigValidation = errors.New("configuration validation error")
	ErrNavigation       = errors.New("page navigation failed")
	ErrPageTimeout      = errors.New("page did not become ready in time")
	ErrExtraction       = errors.New("field extraction failed")
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrParsing          = errors.New("parsing error")  // Wraps specific parsing error (HTML, URL, JSON)
	ErrDatabase         = errors.New("database error") // Wraps badger errors
)

// CategorizeError maps an error to a predefined category string for the
// error_type field of error records and for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRetryFailed):
		// The wrapped chain carries the last underlying failure.
		if errors.Is(err, ErrPageTimeout) {
			return "RetryFailed_PageTimeout"
		}
		if errors.Is(err, ErrNavigation) {
			return "RetryFailed_Navigation"
		}
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetryFailed_Timeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(errMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		return "RetryFailed_Other"
	case errors.Is(err, ErrPageTimeout):
		return "Page_Timeout"
	case errors.Is(err, ErrNavigation):
		return "Page_Navigation"
	case errors.Is(err, ErrExtraction):
		return "Content_Extraction"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}

	return "Unknown"
}

package model

import (
	"errors"
	"fmt"
	"strings"
)

// NetworkError wraps transport-level failures (connect, DNS, TLS, EOF).
// Always considered transient.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a failure the provider reported over a working connection.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

// ConfigError reports missing or inconsistent provider configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "provider config: " + e.Message }

// transientMarkers are matched case-insensitively against API error text to
// decide whether a retry could help.
var transientMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"timeout",
	"temporar",
	"unavailable",
	"503",
}

// Retryable reports whether err is worth retrying. Network errors always are;
// API errors only when the status or message indicates overload or a
// transient outage.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case 429, 503:
		return true
	}
	text := strings.ToLower(apiErr.Message)
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

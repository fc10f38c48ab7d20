package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// streamIdleTimeout bounds how long a connection may sit idle in the pool.
const streamIdleTimeout = 90 * time.Second

// newHTTPClient returns a client with a transport of its own, so turns of
// different sessions never share outbound connections.
func newHTTPClient() *http.Client {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Client{}
	}
	tr := base.Clone()
	tr.IdleConnTimeout = streamIdleTimeout
	return &http.Client{Transport: tr}
}

// extractErrorMetadata extracts HTTP status code and Retry-After from an error
// message when the SDK gives nothing typed.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	var retryAfter string

	// Common patterns: "429", "status code 429", "HTTP 429", etc.
	for _, status := range []int{
		http.StatusTooManyRequests,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusBadRequest,
		http.StatusPaymentRequired,
	} {
		if strings.Contains(errStr, "status code: "+strconv.Itoa(status)) ||
			strings.Contains(errStr, "status code "+strconv.Itoa(status)) ||
			strings.Contains(errStr, "HTTP "+strconv.Itoa(status)) {
			httpStatus = status
			break
		}
	}

	lower := strings.ToLower(errStr)
	for _, prefix := range []string{"retry-after:", "retry-after", "retry after"} {
		if idx := strings.Index(lower, prefix); idx != -1 {
			if parts := strings.Fields(errStr[idx+len(prefix):]); len(parts) > 0 {
				retryAfter = parts[0]
			}
			break
		}
	}

	return httpStatus, retryAfter
}

package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipbot/pkg/channel"

	"github.com/mymmrac/telego/telegoapi"
)

const defaultRetryAfter = time.Second

// wrapError annotates err with op and converts Telegram 429 responses into
// channel.RateLimitError so callers can honor the mandated back-off.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTooManyRequests(err) {
		return &channel.RateLimitError{RetryAfter: retryAfterFromError(err), Err: wrapped}
	}
	return wrapped
}

func isTooManyRequests(err error) bool {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == http.StatusTooManyRequests
	}
	return false
}

func retryAfterFromError(err error) time.Duration {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
		return time.Duration(apiErr.Parameters.RetryAfter) * time.Second
	}
	return defaultRetryAfter
}

func isMessageNotModified(err error) bool {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == http.StatusBadRequest && strings.Contains(apiErr.Description, "message is not modified")
	}
	return false
}

// retryAfterHeader parses a Retry-After header given in seconds.
func retryAfterHeader(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

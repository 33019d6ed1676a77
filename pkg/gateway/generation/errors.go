package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Code classifies a failed generation.
type Code string

const (
	CodeDailyQuotaExceeded Code = "DailyQuotaExceeded"
	CodeRateLimited        Code = "RateLimited"
	CodeUnknown            Code = "Unknown"
)

// Error is a classified generation failure. ResetsAt is set for
// CodeDailyQuotaExceeded and RetryAfter for CodeRateLimited.
type Error struct {
	Code       Code
	Message    string
	ResetsAt   time.Time
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProviderError is a backend API failure with its structured google.rpc
// details, independent of any client library.
type ProviderError struct {
	HTTPStatus int
	Status     string
	Message    string
	Details    []map[string]any
}

func (e *ProviderError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider: %s: %s (http %d)", e.Status, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("provider: %s (http %d)", e.Message, e.HTTPStatus)
}

const (
	typeQuotaFailure = "google.rpc.QuotaFailure"
	typeRetryInfo    = "google.rpc.RetryInfo"
)

var retryDelayRe = regexp.MustCompile(`^(\d+(\.\d+)?)s$`)

// Classify maps err onto the generation taxonomy. now anchors the daily
// reset deadline, which is the next local midnight in now's location.
func Classify(err error, now time.Time) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeUnknown, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeUnknown, Message: "request canceled", Err: err}
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		if isDailyQuota(perr.Details) {
			return &Error{
				Code:     CodeDailyQuotaExceeded,
				Message:  "Daily quota exceeded",
				ResetsAt: NextLocalMidnight(now),
				Err:      err,
			}
		}
		if d, ok := retryDelay(perr.Details); ok {
			return &Error{
				Code:       CodeRateLimited,
				Message:    "Rate limited",
				RetryAfter: d,
				Err:        err,
			}
		}
		msg := strings.TrimSpace(perr.Message)
		if msg == "" {
			msg = err.Error()
		}
		return &Error{Code: CodeUnknown, Message: msg, Err: err}
	}
	return &Error{Code: CodeUnknown, Message: err.Error(), Err: err}
}

// NextLocalMidnight returns the first instant of the day after now, in
// now's location.
func NextLocalMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

func isDailyQuota(details []map[string]any) bool {
	for _, d := range details {
		if !strings.Contains(stringField(d, "@type"), typeQuotaFailure) {
			continue
		}
		violations, _ := d["violations"].([]any)
		for _, raw := range violations {
			v, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id := strings.ToLower(stringField(v, "quotaId"))
			metric := strings.ToLower(stringField(v, "quotaMetric"))
			if strings.Contains(id, "perday") || strings.Contains(id, "per_day") {
				return true
			}
			if strings.Contains(metric, "free_tier") || strings.Contains(metric, "free-tier") {
				return true
			}
		}
	}
	return false
}

// retryDelay reads RetryInfo.retryDelay ("37s", "1.5s") rounded up to the
// millisecond.
func retryDelay(details []map[string]any) (time.Duration, bool) {
	for _, d := range details {
		if !strings.Contains(stringField(d, "@type"), typeRetryInfo) {
			continue
		}
		m := retryDelayRe.FindStringSubmatch(stringField(d, "retryDelay"))
		if m == nil {
			return 0, false
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		ms := math.Ceil(secs * 1000)
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

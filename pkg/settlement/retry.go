package settlement

import (
	"context"
	"math"
	"math/rand"
	"regexp"
	"time"
)

// retryRule marks errors whose message matches as retryable
type retryRule struct {
	match     *regexp.Regexp
	errorType string
}

func phrase(p string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
}

// status codes must stand alone so hex payloads like 0x5029 do not match
func statusCode(code string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + code + `\b`)
}

// retryRules is matched case-insensitively against the full error text.
// Anything not listed is terminal.
var retryRules = []retryRule{
	{phrase("nonce too low"), "nonce_error"},
	{phrase("replacement transaction underpriced"), "underpriced"},
	{phrase("transaction underpriced"), "underpriced"},
	{phrase("already known"), "already_known"},
	{phrase("timeout"), "network_error"},
	{phrase("timed out"), "network_error"},
	{phrase("econnreset"), "network_error"},
	{phrase("connection reset"), "network_error"},
	{phrase("connection refused"), "network_error"},
	{statusCode("429"), "rate_limited"},
	{phrase("rate limit"), "rate_limited"},
	{statusCode("502"), "upstream_error"},
	{statusCode("503"), "upstream_error"},
	{statusCode("504"), "upstream_error"},
	{phrase("no healthy rpc provider"), "no_provider"},
}

// ErrorTypeTerminal labels errors that matched no retry rule
const ErrorTypeTerminal = "terminal"

// ClassifyError reports whether err is worth another attempt with a fresh nonce,
// and a short label for metrics
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	msg := err.Error()
	for _, rule := range retryRules {
		if rule.match.MatchString(msg) {
			return true, rule.errorType
		}
	}
	return false, ErrorTypeTerminal
}

// jitterFraction is the upper bound of random jitter added to each delay
const jitterFraction = 0.25

// Backoff computes the delay before the next attempt: base·2^(k-1) plus up to 25% jitter, capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1); nil uses math/rand
	Rand func() float64
}

// Delay returns the wait after failed attempt k (k >= 1)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}

	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	delay *= 1 + jitterFraction*r()
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package faults maps raw upstream failures to a typed taxonomy with
// retryability, so the retry coordinator can decide what to do with them
// without string-matching on its own.
package faults

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindNetworkTimeout        Kind = "network_timeout"
	KindRateLimited           Kind = "rate_limited"
	KindAuthFailure           Kind = "auth_failure"
	KindPaymentProcessing     Kind = "payment_processing"
	KindMessageDelivery       Kind = "message_delivery"
	KindAIAnalysisUnavailable Kind = "ai_analysis_unavailable"
	KindFileUpload            Kind = "file_upload"
	KindServiceUnavailable    Kind = "service_unavailable"
)

// Service tags recognized by Classify. Tags outside this set fall through
// to the generic transport classification.
const (
	ServicePayments  = "payments"
	ServiceMessaging = "messaging"
	ServiceAI        = "ai"
	ServiceFiles     = "files"
)

const defaultRateLimitDelay = 60 * time.Second

// Classified is a raw failure mapped to a named kind.
type Classified struct {
	Kind       Kind
	Service    string
	Retryable  bool
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (c Classified) Error() string {
	if c.Err != nil {
		return string(c.Kind) + ": " + c.Err.Error()
	}
	return string(c.Kind)
}

func (c Classified) Unwrap() error { return c.Err }

// DefaultDelay returns the retry delay hint for a kind when the server did
// not supply one.
func DefaultDelay(kind Kind) time.Duration {
	switch kind {
	case KindRateLimited:
		return defaultRateLimitDelay
	case KindNetworkTimeout:
		return 5 * time.Second
	case KindServiceUnavailable, KindAIAnalysisUnavailable:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]after[:= ]+(\d+)`)

// RetryAfterFrom extracts a server-provided retry-after hint (seconds) from
// the failure message, if present.
func RetryAfterFrom(msg string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if len(m) != 2 {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Classify maps a raw failure plus its originating service tag into the
// taxonomy. It never returns a zero Kind.
func Classify(service string, err error) Classified {
	out := Classified{
		Kind:      KindServiceUnavailable,
		Service:   service,
		Retryable: true,
		Err:       err,
	}
	if err == nil {
		return out
	}
	msg := err.Error()
	out.Message = msg
	lower := strings.ToLower(msg)

	switch {
	case isTimeout(err, lower):
		out.Kind = KindNetworkTimeout
	case containsAny(lower, "429", "rate limit", "too many requests"):
		out.Kind = KindRateLimited
		if d, ok := RetryAfterFrom(msg); ok {
			out.RetryAfter = d
		} else {
			out.RetryAfter = defaultRateLimitDelay
		}
	case containsAny(lower, "401", "403", "unauthorized", "forbidden", "invalid credentials", "invalid api key", "authentication"):
		out.Kind = KindAuthFailure
		out.Retryable = false
	default:
		out.Kind, out.Retryable = serviceKind(service, lower)
	}
	return out
}

func serviceKind(service, lower string) (Kind, bool) {
	switch normalizeService(service) {
	case ServicePayments:
		return KindPaymentProcessing, !containsAny(lower,
			"declined", "card declined", "insufficient funds", "invalid card")
	case ServiceMessaging:
		return KindMessageDelivery, !containsAny(lower,
			"invalid destination", "malformed", "invalid phone", "unsubscribed", "blacklisted")
	case ServiceAI:
		return KindAIAnalysisUnavailable, true
	case ServiceFiles:
		return KindFileUpload, !containsAny(lower,
			"too large", "oversized", "payload too large", "unsupported format", "413")
	default:
		return KindServiceUnavailable, true
	}
}

func normalizeService(service string) string {
	switch strings.ToLower(strings.TrimSpace(service)) {
	case "payments", "payment", "billing":
		return ServicePayments
	case "messaging", "sms", "calls":
		return ServiceMessaging
	case "ai", "analysis":
		return ServiceAI
	case "files", "upload", "uploads":
		return ServiceFiles
	default:
		return ""
	}
}

func isTimeout(err error, lower string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return containsAny(lower, "timeout", "timed out", "deadline exceeded", "connection refused", "no such host")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

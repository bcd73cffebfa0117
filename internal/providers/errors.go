// Package providers implements the LLM backend contract (§4.D) against
// real third-party SDKs: Anthropic's Claude and OpenAI's GPT family.
// Each provider converts the backend-agnostic models.CompletionRequest/
// Response/StreamEvent shapes to and from its own wire format while
// presenting a single agent.LLMProvider surface to the runtime.
package providers

import (
	"errors"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, driving
// both the retry decision (§4.D: "retries only transport-class
// errors") and any future multi-provider failover policy.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether the failure class is worth retrying
// (§4.D: timeouts, rate limits, and 5xx responses are transport-class;
// invalid params and content-policy rejections are not).
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error surfaced by a provider call.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, "["+string(e.Reason)+"]", e.Provider)
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause with a classification derived from its
// text, identifying which provider/model the call targeted.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus reclassifies the error from an HTTP status code.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// ClassifyError inspects an error's text for known transport/provider
// failure signatures.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "context deadline", "etimedout"):
		return FailoverTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429"):
		return FailoverRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return FailoverAuth
	case containsAny(msg, "billing", "payment", "quota", "insufficient", "402"):
		return FailoverBilling
	case containsAny(msg, "content_filter", "content policy", "safety", "blocked"):
		return FailoverContentFilter
	case containsAny(msg, "model not found", "model_not_found", "does not exist", "unavailable"):
		return FailoverModelUnavailable
	case containsAny(msg, "internal server", "server error", "500", "502", "503", "504"):
		return FailoverServerError
	case containsAny(msg, "400", "invalid request", "invalid_request"):
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryable classifies err and reports whether a retry is worth
// attempting, unwrapping a *ProviderError if present.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

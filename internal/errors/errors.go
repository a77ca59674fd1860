// Package errors classifies failures into retryable and permanent kinds and
// retries operations with a configurable backoff policy. The fetcher uses it
// around exchange calls and snapshot writes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-streak-analyzer/internal/config"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from external service
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors
	ErrorTypeTemporary   ErrorType = "temporary"    // Temporary failures

	// Non-retryable error types
	ErrorTypeCanceled      ErrorType = "canceled"      // Caller gave up
	ErrorTypeBadRequest    ErrorType = "bad_request"   // HTTP 4xx errors (except rate limit)
	ErrorTypeNotFound      ErrorType = "not_found"     // Missing snapshot or product
	ErrorTypeValidation    ErrorType = "validation"    // Data validation errors
	ErrorTypeConfiguration ErrorType = "configuration" // Configuration errors

	ErrorTypeUnknown ErrorType = "unknown"
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger

	mu    sync.RWMutex
	stats map[ErrorType]ErrorStats
}

// ErrorStats tracks error statistics for the run summary
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(cfg config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config: cfg,
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	retryable := ec.isRetryable(errorType)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		retryable = false
	}

	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  determineSeverity(errorType),
		Retryable: retryable,
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", classified.Severity.String(),
		"retryable", retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// classifyErrorType determines the error type based on the error content
func classifyErrorType(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "rate limit", "too many requests", "status 429"):
		return ErrorTypeRateLimit
	case containsAny(errStr, "server error", "internal server", "service unavailable", "bad gateway", "status 5"):
		return ErrorTypeServerError
	case containsAny(errStr, "not found", "no snapshot", "status 404"):
		return ErrorTypeNotFound
	case containsAny(errStr, "status 4", "bad request", "unauthorized", "forbidden"):
		return ErrorTypeBadRequest
	case containsAny(errStr, "validation", "invalid", "malformed", "parse"):
		return ErrorTypeValidation
	case containsAny(errStr, "config", "missing required"):
		return ErrorTypeConfiguration
	case containsAny(errStr, "temporar", "try again"):
		return ErrorTypeTemporary
	}

	return ErrorTypeUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()),
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
		"eof",
	)
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), "timeout", "deadline exceeded")
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeConfiguration:
		return SeverityHigh
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryable determines if an error type should be retried
func (ec *ErrorClassifier) isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeCanceled, ErrorTypeBadRequest, ErrorTypeNotFound,
		ErrorTypeValidation, ErrorTypeConfiguration:
		return false
	}

	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}

	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit,
		ErrorTypeServerError, ErrorTypeTemporary:
		return true
	default:
		// Unknown errors are retried with the same budget
		return true
	}
}

func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	ec.stats[errorType] = stats
}

// Retry executes fn until it succeeds, fails with a non-retryable error, the
// policy's attempt budget is spent, or ctx is done.
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.getRetryPolicy(component)
	strategy := createBackoffStrategy(policy)

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *ClassifiedError
	attempts := 0

	for {
		attempts++

		err := fn()
		if err == nil {
			if attempts > 1 {
				ec.logger.Debug("operation succeeded after retry",
					"component", component,
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}

		lastErr = ec.Classify(err, component, operation)
		lastErr.Attempts = attempts

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error_type", lastErr.Type,
			"retryable", lastErr.Retryable,
			"error", err.Error())

		if !lastErr.Retryable || attempts >= maxAttempts {
			break
		}

		if ctx.Err() != nil {
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		}

		next := strategy.NextBackOff()
		if next == backoff.Stop {
			break
		}

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	ec.logger.Error("operation failed after all retries",
		"component", component,
		"operation", operation,
		"attempts", attempts)
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// getRetryPolicy returns the retry policy for a component
func (ec *ErrorClassifier) getRetryPolicy(component string) config.RetryPolicyConfig {
	if policy, exists := ec.config.ComponentPolicies[component]; exists {
		return policy
	}
	return ec.config.GlobalRetryPolicy
}

// createBackoffStrategy creates a backoff strategy based on configuration
func createBackoffStrategy(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay, _ := time.ParseDuration(policy.InitialDelay)
	maxDelay, _ := time.ParseDuration(policy.MaxDelay)
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	var strategy backoff.BackOff

	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{interval: initialDelay, max: maxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		if !policy.Jitter {
			exponential.RandomizationFactor = 0
		}
		exponential.Reset()
		strategy = exponential
	}

	if policy.Jitter && policy.BackoffStrategy != "exponential" && policy.BackoffStrategy != "" {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	return strategy
}

// GetStats returns a copy of the error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// LinearBackoff grows the delay by a fixed step up to a ceiling.
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	return next + time.Duration((2*rand.Float64()-1)*jitter)
}

// IsRetryable reports whether err, or an error it wraps, was classified as
// retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

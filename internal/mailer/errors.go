package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// MailerError classifies transport failures as transient/permanent. Failed
// recipients are not retried; the class only feeds logs and metrics.
type MailerError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *MailerError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "mail transport error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *MailerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the failure was likely temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var mailerErr *MailerError
	if errors.As(err, &mailerErr) {
		return mailerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason is the metrics label for err.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

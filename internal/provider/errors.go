package provider

import (
	"errors"
	"fmt"

	"ComandaPay/internal/models"
)

var (
	ErrCredentialsMissing = errors.New("provider credentials missing")
	ErrPaymentNotFound    = errors.New("payment not found at provider")
	ErrAlreadyRefunded    = errors.New("payment already refunded")
	ErrNotRefundable      = errors.New("payment not refundable")
	ErrUnknownProvider    = errors.New("unknown payment provider")
)

// AuthError means the provider refused the credential. It is never retried
// in-process.
type AuthError struct {
	Provider   models.Provider
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s auth failed (http %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s auth failed (http %d)", e.Provider, e.StatusCode)
}

type NotRefundableError struct {
	Status string
}

func (e *NotRefundableError) Error() string {
	return fmt.Sprintf("payment not refundable in status %q", e.Status)
}

func (e *NotRefundableError) Is(target error) bool {
	return target == ErrNotRefundable
}

// RejectedError carries the provider's own message so operators see it verbatim.
type RejectedError struct {
	Provider   models.Provider
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request (http %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderMessage returns the message worth persisting for an operator:
// the provider's own text for rejections, the error text otherwise.
func ProviderMessage(err error) string {
	var re *RejectedError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}

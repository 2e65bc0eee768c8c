package pix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
)

// GatewayError wraps every failure returned by the provider client.
type GatewayError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("pix %s failed (%d): %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("pix %s failed: %s", e.Op, msg)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UpstreamStatus exposes the provider HTTP status for error logging.
func (e *GatewayError) UpstreamStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// NotFound reports whether the provider does not know the payment.
func (e *GatewayError) NotFound() bool {
	return e != nil && e.StatusCode == http.StatusNotFound
}

type providerError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func newStatusError(op string, resp *http.Response) *GatewayError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message := strings.TrimSpace(string(raw))
	var payload providerError
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}
	return &GatewayError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  retryableStatus(resp.StatusCode),
		Message:    message,
		Err:        errors.New(http.StatusText(resp.StatusCode)),
	}
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// AsGatewayError unwraps err into a GatewayError when possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// DomainError maps provider failures onto application error codes. Transient
// failures become retryable dependency errors; everything else is a
// permanent rejection.
func DomainError(err error, message string) error {
	if err == nil {
		return nil
	}
	gwErr, ok := AsGatewayError(err)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	return pkgerrors.Wrap(domainCodeFor(gwErr), err, message).WithDetails(map[string]any{
		"provider_status": gwErr.StatusCode,
	})
}

func domainCodeFor(gwErr *GatewayError) pkgerrors.Code {
	if gwErr.Retryable {
		return pkgerrors.CodeDependency
	}
	switch gwErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeDependency
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	default:
		return pkgerrors.CodeGatewayRejected
	}
}

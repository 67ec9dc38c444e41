// Package errs defines the error kinds shared by the remote clients, the
// registration engine and the transport.
package errs

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound marks a missing remote file or resource. It is never retried.
var ErrNotFound = errors.New("not found")

// ErrUnavailable marks work refused because the service is saturated or
// shutting down. The caller may try again later.
var ErrUnavailable = errors.New("temporarily unavailable")

// RemoteError is a non-success answer from a remote API.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransientError wraps a failure worth retrying: a transport error, a 5xx or a 429.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError is returned before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PartialInstallError means the certificate resource exists but the binding
// update did not go through. Another Install with the same certificate
// reconciles the bindings.
type PartialInstallError struct {
	CertificateName string
	Thumbprint      string
	Err             error
}

func (e *PartialInstallError) Error() string {
	return fmt.Sprintf("certificate %s registered but bindings not updated: %v", e.CertificateName, e.Err)
}

func (e *PartialInstallError) Unwrap() error { return e.Err }

// IssuanceError is an authority rejection or timeout.
type IssuanceError struct {
	Domains []string
	Err     error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issuance failed for %v: %v", e.Domains, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// InstallError is a failure of the registration engine after issuance succeeded.
type InstallError struct {
	Thumbprint string
	Err        error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install of %s failed: %v", e.Thumbprint, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// RenewalError collects the certificates a renewal run could not reissue.
// Certificates renewed in the same run are not rolled back.
type RenewalError struct {
	Failures []error
}

func (e *RenewalError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d renewals failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *RenewalError) Unwrap() []error { return e.Failures }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StatusCode maps an error kind to the HTTP status the transport answers with.
func StatusCode(err error) int {
	var (
		validation *ValidationError
		issuance   *IssuanceError
		partial    *PartialInstallError
		remote     *RemoteError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &partial):
		return http.StatusInternalServerError
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &issuance), errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

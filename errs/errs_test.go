package errs_test

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/numtide/appservice-cert-wizard/errs"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", errs.Invalid("host", "empty"), http.StatusBadRequest},
		{"wrapped not found", errors.Wrap(errs.ErrNotFound, "while reading file"), http.StatusNotFound},
		{"remote", &errs.RemoteError{Op: "put", StatusCode: 500}, http.StatusBadGateway},
		{"issuance", &errs.IssuanceError{Err: errors.New("rejected")}, http.StatusBadGateway},
		{"partial wins over remote", &errs.PartialInstallError{Err: &errs.RemoteError{StatusCode: 409}}, http.StatusInternalServerError},
		{"install wrapping validation", &errs.InstallError{Err: errs.Invalid("site", "empty")}, http.StatusBadRequest},
		{"unavailable", errors.WithMessage(errs.ErrUnavailable, "queue full"), http.StatusServiceUnavailable},
		{"renewal with issuance failure", &errs.RenewalError{Failures: []error{&errs.IssuanceError{Err: errors.New("rejected")}}}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.StatusCode(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, errs.IsNotFound(errors.Wrapf(errs.ErrNotFound, "file %s", "a.txt")))
	assert.False(t, errs.IsNotFound(&errs.RemoteError{StatusCode: 500}))
}

func TestRenewalErrorListsFailures(t *testing.T) {
	err := &errs.RenewalError{Failures: []error{
		errors.New("a.example.com: rejected"),
		errors.Wrap(errs.ErrNotFound, "b.example.com"),
	}}

	assert.Contains(t, err.Error(), "2 renewals failed")
	assert.Contains(t, err.Error(), "a.example.com: rejected")
	assert.True(t, errs.IsNotFound(err))
}

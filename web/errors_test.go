package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyUpstream(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	noHost := &net.DNSError{Err: "no such host", Name: "mongo.invalid", IsNotFound: true}
	dnsTimeout := &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}

	cases := []struct {
		err    error
		status int
	}{
		{refused, http.StatusServiceUnavailable},
		{fmt.Errorf("Loading ratebookRecords: %w", refused), http.StatusServiceUnavailable},
		{noHost, http.StatusServiceUnavailable},
		{dnsTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("read: %w", os.ErrDeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("pq: relation \"archive_documents\" does not exist"), http.StatusInternalServerError},
		{nil, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, ClassifyUpstream(c.err), "%v", c.err)
	}
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewValidationError("Missing required fields", "x").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceUnavailableError("Service unavailable", "x").HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("No records found", "x").HTTPStatus())
	assert.Equal(t, http.StatusGatewayTimeout, NewUpstreamError("Failed to send email", "x", context.DeadlineExceeded).HTTPStatus())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("smtp: 554 rejected")
	err := fmt.Errorf("sending: %w", NewUpstreamError("Failed to send email", "Unable to deliver email", cause))
	assert.True(t, IsKind(err, KindUpstream))
	assert.False(t, IsKind(err, KindValidation))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsKind(cause, KindUpstream))
	assert.Contains(t, err.Error(), "554 rejected")
}

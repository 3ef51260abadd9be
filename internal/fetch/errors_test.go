package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{429, KindRateLimit, true},
		{404, KindNotFound, false},
		{500, KindServerError, true},
		{503, KindServerError, true},
		{400, KindUnknown, true},
		{418, KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			e := FromStatus(tt.status)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestClassify(t *testing.T) {
	var syntaxErr error
	{
		var v any
		syntaxErr = json.Unmarshal([]byte(`{"a":`), &v)
	}

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindNetwork},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, KindNetwork},
		{"eof", io.EOF, KindNetwork},
		{"syntax", syntaxErr, KindParseError},
		{"unexpected eof", io.ErrUnexpectedEOF, KindParseError},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.True(t, e.Retryable)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestClassify_KeepsExistingError(t *testing.T) {
	orig := FromStatus(404)
	wrapped := fmt.Errorf("fetch price: %w", orig)

	assert.Same(t, orig, Classify(wrapped))
	assert.Nil(t, Classify(nil))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, Kind(""), KindOf(nil))
}

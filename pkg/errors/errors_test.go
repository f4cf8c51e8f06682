package errors

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code     int
		wantType ErrorType
		wantKind Kind
	}{
		{420, ErrorTypeRateLimit, KindRateLimited},
		{429, ErrorTypeRateLimit, KindRateLimited},
		{401, ErrorTypeAuth, KindFatal},
		{403, ErrorTypeAuth, KindFatal},
		{400, ErrorTypeInvalidRequest, KindFatal},
		{404, ErrorTypeInvalidRequest, KindFatal},
		{500, ErrorTypeServerError, KindTransient},
		{503, ErrorTypeServerError, KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			err := FromStatus(tt.code, "boom")
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantKind, Classify(err))
		})
	}
}

func TestClassifyWrapped(t *testing.T) {
	err := fmt.Errorf("open stream: %w", New(ErrorTypeRateLimit, "slow down"))
	assert.Equal(t, KindRateLimited, Classify(err))
	assert.True(t, Is(err, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))

	assert.Equal(t, KindFatal, Classify(fmt.Errorf("plain failure")))
	assert.Equal(t, KindTransient, Classify(Wrap(ErrorTypeNetwork, "read", os.ErrDeadlineExceeded)))
	assert.Equal(t, KindTransient, Classify(fmt.Errorf("read: %w", io.EOF)))
}

func TestResetHint(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	withAfter := &Error{Type: ErrorTypeRateLimit, RetryAfter: 42 * time.Second}
	assert.Equal(t, now.Add(42*time.Second), ResetHint(withAfter, now))

	reset := now.Add(10 * time.Minute)
	withReset := &Error{Type: ErrorTypeRateLimit, ResetAt: reset, RetryAfter: time.Second}
	assert.Equal(t, reset, ResetHint(withReset, now))

	assert.True(t, ResetHint(New(ErrorTypeRateLimit, "x"), now).IsZero())
	assert.True(t, ResetHint(fmt.Errorf("untyped"), now).IsZero())
}

func TestIsUnrecoverable(t *testing.T) {
	assert.True(t, IsUnrecoverable(Wrap(ErrorTypeWrite, "append", syscall.ENOSPC)))
	assert.True(t, IsUnrecoverable(&os.PathError{Op: "open", Path: "/x", Err: syscall.EROFS}))
	assert.True(t, IsUnrecoverable(&Error{Type: ErrorTypeWrite, Unrecoverable: true}))
	assert.False(t, IsUnrecoverable(Wrap(ErrorTypeWrite, "append", syscall.EACCES)))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Type: ErrorTypeAuth, Code: 401, Message: "bad token"}
	assert.Equal(t, "auth error (code 401): bad token", err.Error())

	wrapped := Wrap(ErrorTypeWrite, "append record", os.ErrPermission)
	assert.Contains(t, wrapped.Error(), "write error: append record")
	assert.ErrorIs(t, wrapped, os.ErrPermission)
}

func TestIsRetryableStatusCode(t *testing.T) {
	assert.True(t, IsRetryableStatusCode(0))
	assert.True(t, IsRetryableStatusCode(420))
	assert.True(t, IsRetryableStatusCode(502))
	assert.False(t, IsRetryableStatusCode(401))
	assert.False(t, IsRetryableStatusCode(404))
}

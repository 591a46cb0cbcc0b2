package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusConflict, KindRejected},
		{http.StatusGone, KindRejected},
		{http.StatusUnauthorized, KindPermissionDenied},
		{http.StatusForbidden, KindPermissionDenied},
		{http.StatusBadRequest, KindSerialization},
		{http.StatusUnprocessableEntity, KindSerialization},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.status))
		})
	}
}

func TestClassify(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}

	tests := []struct {
		err  error
		name string
		want Kind
	}{
		{name: "wrapped remote error", err: fmt.Errorf("send: %w", &Error{Kind: KindRejected}), want: KindRejected},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "json", err: fmt.Errorf("decode: %w", syntaxErr), want: KindSerialization},
		{name: "unknown", err: errors.New("boom"), want: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "send", Kind: KindRejected, Status: 409, Message: "stale base version"}
	assert.Equal(t, "send: rejected (status 409): stale base version", err.Error())

	inner := errors.New("dial tcp: refused")
	wrapped := NewError("fetch", KindTransient, inner)
	assert.ErrorIs(t, wrapped, inner)
	assert.True(t, IsRetryable(wrapped))
}

func TestFilter_Match(t *testing.T) {
	assert.True(t, Filter{}.Match("pulse"))
	assert.True(t, Filter{Kinds: []string{"pulse"}}.Match("pulse"))
	assert.False(t, Filter{Kinds: []string{"pulse"}}.Match("membership"))
}

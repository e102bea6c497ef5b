package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"not found", NewNotFoundError("p", "XYZ", "no data"), KindNotFound},
		{"wrapped fatal", fmt.Errorf("fetch: %w", NewFatalError("p", "XYZ", "503")), KindFatal},
		{"quota", NewQuotaError("p", "XYZ", ScopeDay, "daily"), KindQuotaExceeded},
		{"canceled", context.Canceled, KindCanceled},
		{"transient wrapping cancel", NewTransientError("p", "XYZ", "request", context.Canceled), KindCanceled},
		{"untyped", errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFetchError_IsSentinels(t *testing.T) {
	quota := NewQuotaError("AlphaVantage", "MSFT", ScopeMonth, "monthly cap")

	assert.ErrorIs(t, quota, ErrQuotaExceeded)
	assert.ErrorIs(t, quota, ErrFatal)
	assert.NotErrorIs(t, quota, ErrTransient)
	assert.Equal(t, ScopeMonth, ScopeOf(quota))

	rl := NewRateLimitError("AlphaVantage", "MSFT", "slow down")
	assert.ErrorIs(t, rl, ErrTransient)
	assert.ErrorIs(t, rl, ErrRateLimited)
	assert.Equal(t, ScopeMinute, ScopeOf(rl))
	assert.Contains(t, rl.Error(), "rate_limited")
}

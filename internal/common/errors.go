package common

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure so the fetcher can route it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindIllegalSymbol: empty or not representable in a URL. Never retried.
	KindIllegalSymbol
	// KindNotFound: the provider has no data for the symbol. Never retried.
	KindNotFound
	// KindTransient: network failure, timeout or 5xx other than 503. Retried once.
	KindTransient
	// KindRateLimited: provider rejected the call for per-minute pacing.
	KindRateLimited
	// KindFatal: auth or availability failure. Disables the provider.
	KindFatal
	// KindQuotaExceeded: daily or monthly allowance used up. Fatal.
	KindQuotaExceeded
	// KindCanceled: user-initiated cancellation. Silent.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindIllegalSymbol:
		return "illegal_symbol"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// QuotaScope says which throttle window a QuotaExceeded failure refers to.
type QuotaScope int

const (
	ScopeNone QuotaScope = iota
	ScopeMinute
	ScopeDay
	ScopeMonth
)

func (s QuotaScope) String() string {
	switch s {
	case ScopeMinute:
		return "minute"
	case ScopeDay:
		return "day"
	case ScopeMonth:
		return "month"
	default:
		return "none"
	}
}

// ParseQuotaScope is the inverse of QuotaScope.String.
func ParseQuotaScope(s string) QuotaScope {
	switch s {
	case "minute":
		return ScopeMinute
	case "day":
		return ScopeDay
	case "month":
		return ScopeMonth
	default:
		return ScopeNone
	}
}

// Sentinel errors, matched with errors.Is against a *FetchError.
var (
	ErrIllegalSymbol = errors.New("illegal symbol")
	ErrNotFound      = errors.New("symbol not found")
	ErrTransient     = errors.New("transient provider failure")
	ErrRateLimited   = errors.New("provider rate limit")
	ErrFatal         = errors.New("provider unavailable")
	ErrQuotaExceeded = errors.New("provider quota exceeded")
)

// FetchError is the typed failure every provider adapter returns.
type FetchError struct {
	Kind       ErrorKind
	Scope      QuotaScope
	Provider   string
	Symbol     string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status: %d, symbol: %s)", e.Provider, e.Kind, msg, e.StatusCode, e.Symbol)
	}
	return fmt.Sprintf("%s %s: %s (symbol: %s)", e.Provider, e.Kind, msg, e.Symbol)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) and friends match on kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrIllegalSymbol:
		return e.Kind == KindIllegalSymbol
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient || e.Kind == KindRateLimited
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrFatal:
		return e.Kind == KindFatal || e.Kind == KindQuotaExceeded
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	}
	return false
}

func newFetchError(kind ErrorKind, provider, symbol, message string) *FetchError {
	return &FetchError{Kind: kind, Provider: provider, Symbol: symbol, Message: message}
}

// NewIllegalSymbolError reports a symbol that cannot be requested.
func NewIllegalSymbolError(provider, symbol string) *FetchError {
	return newFetchError(KindIllegalSymbol, provider, symbol, "symbol is empty or contains illegal characters")
}

// NewNotFoundError reports a symbol the provider does not know.
func NewNotFoundError(provider, symbol, message string) *FetchError {
	return newFetchError(KindNotFound, provider, symbol, message)
}

// NewTransientError reports a retryable failure.
func NewTransientError(provider, symbol, message string, cause error) *FetchError {
	e := newFetchError(KindTransient, provider, symbol, message)
	e.Err = cause
	return e
}

// NewRateLimitError reports a per-minute rejection.
func NewRateLimitError(provider, symbol, message string) *FetchError {
	e := newFetchError(KindRateLimited, provider, symbol, message)
	e.Scope = ScopeMinute
	return e
}

// NewFatalError reports a failure that disables the provider.
func NewFatalError(provider, symbol, message string) *FetchError {
	return newFetchError(KindFatal, provider, symbol, message)
}

// NewQuotaError reports an exhausted daily or monthly allowance.
func NewQuotaError(provider, symbol string, scope QuotaScope, message string) *FetchError {
	e := newFetchError(KindQuotaExceeded, provider, symbol, message)
	e.Scope = scope
	return e
}

// KindOf classifies any error. Context cancellation is KindCanceled,
// deadline expiry is KindTransient, and untyped errors are KindTransient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Kind == KindTransient && errors.Is(fe.Err, context.Canceled) {
			return KindCanceled
		}
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransient
}

// ScopeOf returns the quota scope carried by err, if any.
func ScopeOf(err error) QuotaScope {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Scope
	}
	return ScopeNone
}

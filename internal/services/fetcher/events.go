package fetcher

import (
	"time"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/models"
)

// EventType identifies a fetcher event.
type EventType int

const (
	EventQuoteAvailable EventType = iota
	EventHistoryAvailable
	EventSymbolNotFound
	EventProgress
	EventComplete
	EventSuspended
	EventResumed
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventQuoteAvailable:
		return "quote_available"
	case EventHistoryAvailable:
		return "history_available"
	case EventSymbolNotFound:
		return "symbol_not_found"
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventSuspended:
		return "suspended"
	case EventResumed:
		return "resumed"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to subscribers on the fetcher goroutine. Only the
// fields relevant to Type are set.
type Event struct {
	Type      EventType
	Provider  string
	SessionID string
	Symbol    string
	Job       JobKind

	Quote   *models.Quote
	History *models.QuoteHistory
	Changed bool

	Completed int
	Total     int

	// Complete: Success is false when work was left undone or failed;
	// Partial marks a per-symbol failure report inside a running session.
	Success bool
	Partial bool

	Duration time.Duration
	Kind     common.ErrorKind
	Message  string
}

// State is the fetcher lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// JobKind distinguishes latest-quote jobs from history downloads.
type JobKind int

const (
	JobQuote JobKind = iota
	JobHistory
)

type job struct {
	kind   JobKind
	symbol string
}

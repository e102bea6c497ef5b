package models

import "time"

// ProviderSettings configures one quote provider. A limit of 0 means unlimited.
type ProviderSettings struct {
	Name              string `json:"name"`
	Address           string `json:"address"`
	APIKey            string `json:"-"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	RequestsPerDay    int    `json:"requests_per_day"`
	RequestsPerMonth  int    `json:"requests_per_month"`
	HistoryEnabled    bool   `json:"history_enabled"`
}

// ThrottleState is the persisted call ledger for one provider.
type ThrottleState struct {
	Provider        string    `json:"provider"`
	LastCall        time.Time `json:"last_call"`
	CallsThisMinute int       `json:"calls_this_minute"`
	CallsToday      int       `json:"calls_today"`
	CallsThisMonth  int       `json:"calls_this_month"`

	// Exhausted is the window ("minute", "day" or "month") the provider itself
	// reported as used up at ExhaustedAt. It holds until that window ends.
	Exhausted   string    `json:"exhausted,omitempty"`
	ExhaustedAt time.Time `json:"exhausted_at,omitempty"`
}

// DownloadRecord notes when history for a symbol was last downloaded.
type DownloadRecord struct {
	Symbol     string    `json:"symbol"`
	Downloaded time.Time `json:"downloaded"`
}

package models

import "time"

// Security is a held instrument as the portfolio sees it.
type Security struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	PriceDate time.Time `json:"price_date,omitempty"`
}

// Transaction is a ledger trade in a security.
type Transaction struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Units     float64   `json:"units"`
	UnitPrice float64   `json:"unit_price"`
}

// ChangeType classifies a portfolio notification.
type ChangeType string

const (
	ChangeInserted ChangeType = "inserted"
	ChangeChanged  ChangeType = "changed"
	ChangeDeleted  ChangeType = "deleted"
)

// ItemKind says what kind of portfolio item changed.
type ItemKind string

const (
	ItemSecurity    ItemKind = "security"
	ItemTransaction ItemKind = "transaction"
)

// ChangeEvent is one portfolio mutation. Symbol is the affected security.
type ChangeEvent struct {
	Kind   ItemKind   `json:"kind"`
	Symbol string     `json:"symbol"`
	Type   ChangeType `json:"type"`
}

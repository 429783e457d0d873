// Package domain holds the shared transaction model consumed by the
// scoring pipeline. Ingestion collaborators populate these structs; the
// pipeline never mutates them.
package domain

import (
	"strings"
	"time"
)

// PaymentMethod identifies how a transaction was paid.
type PaymentMethod string

const (
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentWallet   PaymentMethod = "wallet"
	PaymentCash     PaymentMethod = "cash"
)

// Location is the place a transaction occurred. City and Country form the
// composite identity of a location node in the relationship graph.
type Location struct {
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Key returns the composite location node id.
func (l Location) Key() string {
	return strings.ToLower(l.City) + ":" + strings.ToLower(l.Country)
}

// Transaction is a single payment to be scored.
type Transaction struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	DeviceID         string        `json:"deviceId"`
	MerchantID       string        `json:"merchantId"`
	MerchantCategory string        `json:"merchantCategory"`
	Amount           float64       `json:"amount"`
	Currency         string        `json:"currency"`
	PaymentMethod    PaymentMethod `json:"paymentMethod"`
	Location         Location      `json:"location"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Hour returns the local hour of day the transaction occurred.
func (t *Transaction) Hour() int {
	return t.Timestamp.Hour()
}

// IsNightTime reports whether the transaction happened outside normal
// hours (before 06:00 or after 22:00).
func (t *Transaction) IsNightTime() bool {
	h := t.Hour()
	return h < 6 || h > 22
}

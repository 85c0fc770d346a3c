package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// InboundCryptoEvent is the custody-provider webhook body for a deposit or
// withdrawal on the crypto leg.
type InboundCryptoEvent struct {
	Network         string `json:"network"`
	Event           string `json:"event"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	UserID          string `json:"user_id"`
	TxnHash         string `json:"txn_hash"`
	CryptoSymbol    string `json:"crypto_symbol"`
	TransactionType string `json:"transaction_type"`
	Tag             string `json:"tag,omitempty"`
	USDValue        string `json:"usd_value,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	ID              string `json:"id"`
	Address         string `json:"address"`
}

// Validate rejects malformed payloads before they reach the lifecycle logic.
func (e *InboundCryptoEvent) Validate() error {
	switch {
	case e.Event == "":
		return fmt.Errorf("crypto event: event is required")
	case e.Status == "":
		return fmt.Errorf("crypto event: status is required")
	case e.UserID == "":
		return fmt.Errorf("crypto event: user_id is required")
	case e.TxnHash == "":
		return fmt.Errorf("crypto event: txn_hash is required")
	}
	if _, err := decimal.NewFromString(e.Amount); err != nil {
		return fmt.Errorf("crypto event: bad amount %q: %w", e.Amount, err)
	}
	return nil
}

// InboundFiatEvent is the payment-provider webhook body for a fiat
// settlement.
type InboundFiatEvent struct {
	Event             string `json:"event"`
	UserID            string `json:"user_id"`
	ClientID          string `json:"client_id"`
	TransactionStatus string `json:"transaction_status"`
	InvestedAt        string `json:"invested_at"`
	TransactionID     string `json:"transaction_id"`
	TransferType      string `json:"transfer_type"`
	BankReferenceID   string `json:"bank_reference_id"`
	USDAmount         string `json:"usd_amount"`
	FiatAmount        string `json:"fiat_amount"`
}

func (e *InboundFiatEvent) Validate() error {
	switch {
	case e.Event == "":
		return fmt.Errorf("fiat event: event is required")
	case e.TransactionStatus == "":
		return fmt.Errorf("fiat event: transaction_status is required")
	case e.TransactionID == "":
		return fmt.Errorf("fiat event: transaction_id is required")
	}
	return nil
}

// EventFamily classifies a webhook event name into its handler family.
type EventFamily int

const (
	EventUnknown EventFamily = iota
	EventCrypto              // deposit / withdraw
	EventFiat                // sell / buy
)

// FamilyOf maps an event name to the handler family that owns it.
func FamilyOf(event string) EventFamily {
	switch strings.ToLower(event) {
	case "deposit", "withdraw":
		return EventCrypto
	case "sell", "buy":
		return EventFiat
	default:
		return EventUnknown
	}
}

// TXInboundMessage is a sell-crypto request arriving via the queue.
type TXInboundMessage struct {
	WalletAddress string          `json:"wallet_address"`
	TxnHash       string          `json:"txn_hash"`
	UserID        string          `json:"user_id"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	CryptoAmount  decimal.Decimal `json:"crypto_amount"`
	PaymentMethod string          `json:"payment_method"`
	FiatSymbol    string          `json:"fiat_symbol"`
	CryptoSymbol  string          `json:"crypto_symbol"`
}

func (m *TXInboundMessage) Validate() error {
	switch {
	case m.TxnHash == "":
		return fmt.Errorf("sell message: txn_hash is required")
	case m.UserID == "":
		return fmt.Errorf("sell message: user_id is required")
	}
	return nil
}

// QueueEnvelope is the bus envelope wrapping a TXInboundMessage.
type QueueEnvelope struct {
	Detail TXInboundMessage `json:"detail"`
}

// SellCryptoRequest is the REST body that initiates a sell: the queue
// message fields plus the caller-assigned transaction id and request time.
type SellCryptoRequest struct {
	TXInboundMessage
	TxID     string `json:"txId" binding:"required"`
	InitTime int64  `json:"initTime"`
}

// WebhookResponse is the uniform webhook/REST response envelope.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Text    string `json:"text"`
}

package model

import (
	"github.com/shopspring/decimal"
)

// TransactionRecord is one immutable row of the off-ramp ledger. State
// transitions are new inserts sharing the same TxID; rows are never updated
// or deleted. The current state of a transaction is the row with the highest
// CreatedAt for its TxID.
type TransactionRecord struct {
	ID                uint64          `gorm:"primaryKey" json:"-"`
	TxID              string          `gorm:"size:128;index;not null" json:"txId"`
	UserID            string          `gorm:"size:64;index" json:"userId"`
	Status            string          `gorm:"size:32;index;not null" json:"status"`
	TxnHash           string          `gorm:"size:128;index" json:"txn_hash"`
	BankTransactionID string          `gorm:"size:128;index" json:"bank_transaction_id"`
	SourceID          string          `gorm:"size:128" json:"source_id"`
	AccountNo         string          `gorm:"size:64" json:"account_no"`
	TransactionType   string          `gorm:"size:32" json:"transaction_type"`
	FiatAmount        decimal.Decimal `gorm:"type:numeric(20,8)" json:"fiat_amount"`
	CryptoAmount      decimal.Decimal `gorm:"type:numeric(20,8)" json:"crypto_amount"`
	ExchangeRate      decimal.Decimal `gorm:"type:numeric(20,8)" json:"exchange_rate"`
	FiatSymbol        string          `gorm:"size:16" json:"fiat_symbol"`
	CryptoSymbol      string          `gorm:"size:16" json:"crypto_symbol"`
	Network           string          `gorm:"size:32" json:"network"`
	Address           string          `gorm:"size:128" json:"address"`
	FailureCode       string          `gorm:"size:64" json:"failure_code,omitempty"`
	FailureDesc       string          `gorm:"size:256" json:"failure_desc,omitempty"`
	// InitTime is the original request timestamp, propagated across every
	// record sharing the same TxID.
	InitTime int64 `gorm:"index" json:"initTime"`
	// CreatedAt is the row's own write time in epoch millis and the
	// ordering key for latest-state lookups.
	CreatedAt int64 `gorm:"index;not null" json:"createdAt"`
}

func (TransactionRecord) TableName() string { return "transaction_status" }

// Successor returns a copy of r ready to be appended as the next lifecycle
// record: same TxID lineage, new status, CreatedAt left for the store to fill.
func (r TransactionRecord) Successor(status string) TransactionRecord {
	next := r
	next.ID = 0
	next.Status = status
	next.CreatedAt = 0
	return next
}

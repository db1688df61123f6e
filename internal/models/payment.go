package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment status lifecycle. Transitions are pending->confirmed or
// pending->failed only, never reversed.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

// Payment is the durable record of an on-chain transfer accepted as a
// membership purchase. TxHash is the at-most-once key.
type Payment struct {
	ID              int64           `gorm:"primaryKey;autoIncrement;column:id"`
	TxHash          string          `gorm:"type:varchar(66);not null;uniqueIndex:pay_payments_ux1;column:tx_hash"`
	PayerID         int64           `gorm:"not null;column:payer_id"`
	PayerAccount    string          `gorm:"type:varchar(42);not null;column:payer_account"`
	ReceiverAccount string          `gorm:"type:varchar(42);not null;column:receiver_account"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,6);not null;column:amount"`
	BlockNum        *int64          `gorm:"column:block_num"`
	BlockHash       *string         `gorm:"type:varchar(66);column:block_hash"`
	Status          string          `gorm:"type:varchar(10);not null;default:'pending';column:status"`
	RecordedAt      time.Time       `gorm:"not null;column:recorded_at"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "pay_payments"
}

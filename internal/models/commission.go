package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission status lifecycle
const (
	CommissionStatusPending = "pending"
	CommissionStatusPaid    = "paid"
	CommissionStatusFailed  = "failed"
)

// MaxCommissionLevels bounds the referral-chain walk
const MaxCommissionLevels = 5

// Commission is one per-level payout obligation tied to one Payment and one
// beneficiary ancestor. At most MaxCommissionLevels rows exist per payment;
// Level follows chain position, not payout position.
type Commission struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement;column:id"`
	PaymentID          int64           `gorm:"not null;index:pay_commissions_ix1;column:payment_id"`
	BeneficiaryID      int64           `gorm:"not null;index:pay_commissions_ix2;column:beneficiary_id"`
	BeneficiaryAccount string          `gorm:"type:varchar(42);not null;column:beneficiary_account"`
	PayerAccount       string          `gorm:"type:varchar(42);not null;column:payer_account"`
	Level              int16           `gorm:"type:smallint;not null;column:level"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,6);not null;column:amount"`
	Status             string          `gorm:"type:varchar(10);not null;default:'pending';column:status"`
	PayoutTxHash       *string         `gorm:"type:varchar(66);column:payout_tx_hash"`
	CreatedAt          time.Time       `gorm:"not null;column:created_at"`
	PaidAt             *time.Time      `gorm:"column:paid_at"`

	// Relationships
	Payment *Payment `gorm:"foreignKey:PaymentID;references:ID"`
}

// TableName specifies the table name for Commission
func (Commission) TableName() string {
	return "pay_commissions"
}

package models

import (
	"time"
)

// Member holds the membership-relevant slice of an account: its wallet,
// where payouts go, when access expires, and the referrer pointer. Referrer
// edges form a forest; edge creation lives in the member directory, this
// core only reads them.
type Member struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement;column:id"`
	WalletAddress       string     `gorm:"type:varchar(42);not null;uniqueIndex:pay_members_ux1;column:wallet_address"`
	PayoutAddress       string     `gorm:"type:varchar(42);column:payout_address"`
	ReferrerID          *int64     `gorm:"column:referrer_id"`
	MembershipExpiresAt *time.Time `gorm:"column:membership_expires_at"`
	CreatedAt           time.Time  `gorm:"not null;column:created_at"`
	UpdatedAt           time.Time  `gorm:"not null;column:updated_at"`

	// Self reference
	Referrer *Member `gorm:"foreignKey:ReferrerID;references:ID"`
}

// TableName specifies the table name for Member
func (Member) TableName() string {
	return "pay_members"
}

// IsActiveAt reports whether the membership is active at the given time
func (m *Member) IsActiveAt(at time.Time) bool {
	return m.MembershipExpiresAt != nil && m.MembershipExpiresAt.After(at)
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/membriq/chainpay/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PaymentRepository provides payment-ledger database operations
type PaymentRepository struct {
	*Repository
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(repo *Repository) *PaymentRepository {
	return &PaymentRepository{Repository: repo}
}

// CreateIfAbsent inserts the payment unless a row with the same tx hash
// already exists. The unique index on tx_hash makes this the atomic
// at-most-once check; it reports whether the row was inserted.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(payment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByTxHash retrieves a payment by transaction hash
func (r *PaymentRepository) GetByTxHash(ctx context.Context, txHash string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// ListPending retrieves all payments still awaiting a receipt
func (r *PaymentRepository) ListPending(ctx context.Context) ([]*models.Payment, error) {
	var payments []*models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusPending).
		Order("recorded_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// MarkConfirmed transitions a pending payment to confirmed and records the
// block reference. It reports whether the transition happened, so a
// concurrent sweep cannot confirm the same payment twice.
func (r *PaymentRepository) MarkConfirmed(ctx context.Context, id int64, blockNum int64, blockHash string) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusConfirmed,
			"block_num":    blockNum,
			"block_hash":   blockHash,
			"processed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed transitions a pending payment to failed
func (r *PaymentRepository) MarkFailed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusFailed,
			"processed_at": now,
		}).Error
}

// CommissionRepository provides commission-ledger database operations
type CommissionRepository struct {
	*Repository
}

// NewCommissionRepository creates a new commission repository
func NewCommissionRepository(repo *Repository) *CommissionRepository {
	return &CommissionRepository{Repository: repo}
}

// Create creates a new commission row
func (r *CommissionRepository) Create(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

// MarkPaid marks a commission as paid and stores the payout transaction hash
func (r *CommissionRepository) MarkPaid(ctx context.Context, id int64, payoutTxHash string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.CommissionStatusPaid,
			"payout_tx_hash": payoutTxHash,
			"paid_at":        now,
		}).Error
}

// MarkFailed marks a commission as failed. Failed commissions are never
// retried automatically.
func (r *CommissionRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id = ?", id).
		Update("status", models.CommissionStatusFailed).Error
}

// ListForBeneficiary retrieves the most recent commissions for an account
func (r *CommissionRepository) ListForBeneficiary(ctx context.Context, beneficiaryID int64, limit int) ([]*models.Commission, error) {
	if limit <= 0 {
		limit = 50
	}
	var commissions []*models.Commission
	if err := r.db.WithContext(ctx).
		Preload("Payment").
		Where("beneficiary_id = ?", beneficiaryID).
		Order("created_at DESC").
		Limit(limit).
		Find(&commissions).Error; err != nil {
		return nil, err
	}
	return commissions, nil
}

// TotalPaid returns the sum of paid commissions for an account
func (r *CommissionRepository) TotalPaid(ctx context.Context, beneficiaryID int64) (decimal.Decimal, error) {
	return r.sumPaid(ctx, beneficiaryID, nil)
}

// MonthlyPaid returns the sum of commissions paid in the current calendar month
func (r *CommissionRepository) MonthlyPaid(ctx context.Context, beneficiaryID int64) (decimal.Decimal, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return r.sumPaid(ctx, beneficiaryID, &monthStart)
}

func (r *CommissionRepository) sumPaid(ctx context.Context, beneficiaryID int64, since *time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	query := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Select("SUM(amount)").
		Where("beneficiary_id = ? AND status = ?", beneficiaryID, models.CommissionStatusPaid)
	if since != nil {
		query = query.Where("paid_at >= ?", *since)
	}
	if err := query.Scan(&total).Error; err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// CountByLevel returns commission counts per level recorded against an
// account
func (r *CommissionRepository) CountByLevel(ctx context.Context, beneficiaryID int64) (map[int16]int64, error) {
	type levelCount struct {
		Level int16
		Count int64
	}
	var rows []levelCount
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Select("level, COUNT(*) as count").
		Where("beneficiary_id = ?", beneficiaryID).
		Group("level").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[int16]int64, len(rows))
	for _, row := range rows {
		counts[row.Level] = row.Count
	}
	return counts, nil
}

// MemberRepository provides member-directory database operations. It realizes
// the referral graph, membership activity, and payout address lookups the
// watcher core consumes.
type MemberRepository struct {
	*Repository
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(repo *Repository) *MemberRepository {
	return &MemberRepository{Repository: repo}
}

// GetByID retrieves a member by ID
func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).First(&member, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// GetByWallet retrieves a member by wallet address
func (r *MemberRepository) GetByWallet(ctx context.Context, wallet string) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).Where("LOWER(wallet_address) = LOWER(?)", wallet).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// ReferrerOf returns the referrer of a member, or nil at a chain root
func (r *MemberRepository) ReferrerOf(ctx context.Context, memberID int64) (*models.Member, error) {
	member, err := r.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.ReferrerID == nil {
		return nil, nil
	}
	return r.GetByID(ctx, *member.ReferrerID)
}

// IsActive reports whether a member's membership is active at the given time
func (r *MemberRepository) IsActive(ctx context.Context, memberID int64, at time.Time) (bool, error) {
	member, err := r.GetByID(ctx, memberID)
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, nil
	}
	return member.IsActiveAt(at), nil
}

// PayoutAddressOf returns the registered payout address of a member, empty
// when none is registered
func (r *MemberRepository) PayoutAddressOf(ctx context.Context, memberID int64) (string, error) {
	member, err := r.GetByID(ctx, memberID)
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", nil
	}
	return member.PayoutAddress, nil
}

// DownlineCount holds referral counts for one level of an account's downline
type DownlineCount struct {
	Total  int64
	Active int64
}

// DownlineCounts walks the referral tree downward from a member and counts
// direct and indirect referrals per level, up to maxLevels deep
func (r *MemberRepository) DownlineCounts(ctx context.Context, memberID int64, maxLevels int16) (map[int16]DownlineCount, error) {
	now := time.Now().UTC()
	counts := make(map[int16]DownlineCount, maxLevels)
	frontier := []int64{memberID}

	for level := int16(1); level <= maxLevels; level++ {
		if len(frontier) == 0 {
			break
		}
		var rows []models.Member
		if err := r.db.WithContext(ctx).
			Select("id", "membership_expires_at").
			Where("referrer_id IN ?", frontier).
			Find(&rows).Error; err != nil {
			return nil, err
		}

		next := make([]int64, 0, len(rows))
		var active int64
		for i := range rows {
			next = append(next, rows[i].ID)
			if rows[i].IsActiveAt(now) {
				active++
			}
		}
		counts[level] = DownlineCount{Total: int64(len(rows)), Active: active}
		frontier = next
	}

	return counts, nil
}

// ExtendMembership sets the membership expiry. The caller computes the new
// expiry from "now", not from the previous expiry; a renewal before expiry
// does not stack.
func (r *MemberRepository) ExtendMembership(ctx context.Context, memberID int64, until time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", memberID).
		Update("membership_expires_at", until).Error
}

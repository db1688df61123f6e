package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/cache"
	"github.com/membriq/chainpay/internal/db"
	"github.com/membriq/chainpay/internal/models"
	"github.com/membriq/chainpay/pkg/logging"
)

const balanceCacheTTL = 30 * time.Second

// BalanceReader reads the platform account's token balance from the chain
type BalanceReader interface {
	PlatformBalance(ctx context.Context) (decimal.Decimal, error)
}

// ReportingAPI serves the referral and payment read queries
type ReportingAPI struct {
	commissions *db.CommissionRepository
	payments    *db.PaymentRepository
	members     *db.MemberRepository
	balance     BalanceReader
	cache       *cache.Cache
	logger      *zap.Logger
}

// NewReportingAPI creates a new reporting API
func NewReportingAPI(repo *db.Repository, balance BalanceReader, redisCache *cache.Cache) *ReportingAPI {
	return &ReportingAPI{
		commissions: db.NewCommissionRepository(repo),
		payments:    db.NewPaymentRepository(repo),
		members:     db.NewMemberRepository(repo),
		balance:     balance,
		cache:       redisCache,
		logger:      logging.WithComponent("reporting-api"),
	}
}

type accountParams struct {
	Account string `json:"account"`
	Limit   int    `json:"limit"`
}

type paymentParams struct {
	TxHash string `json:"tx_hash"`
}

// commissionView is the wire shape of one commission row
type commissionView struct {
	ID            int64      `json:"id"`
	PaymentTxHash string     `json:"payment_tx_hash,omitempty"`
	PayerAccount  string     `json:"payer_account"`
	Level         int16      `json:"level"`
	Amount        string     `json:"amount"`
	Status        string     `json:"status"`
	PayoutTxHash  *string    `json:"payout_tx_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// GetCommissions returns the most recent commissions for an account
func (a *ReportingAPI) GetCommissions(c *gin.Context, params json.RawMessage) (interface{}, error) {
	member, p, err := a.resolveAccount(c, params)
	if err != nil {
		return nil, err
	}

	commissions, err := a.commissions.ListForBeneficiary(c.Request.Context(), member.ID, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}

	views := make([]commissionView, 0, len(commissions))
	for _, commission := range commissions {
		view := commissionView{
			ID:           commission.ID,
			PayerAccount: commission.PayerAccount,
			Level:        commission.Level,
			Amount:       commission.Amount.String(),
			Status:       commission.Status,
			PayoutTxHash: commission.PayoutTxHash,
			CreatedAt:    commission.CreatedAt,
			PaidAt:       commission.PaidAt,
		}
		if commission.Payment != nil {
			view.PaymentTxHash = commission.Payment.TxHash
		}
		views = append(views, view)
	}

	return views, nil
}

// GetTotalPaid returns the total paid commissions for an account
func (a *ReportingAPI) GetTotalPaid(c *gin.Context, params json.RawMessage) (interface{}, error) {
	member, _, err := a.resolveAccount(c, params)
	if err != nil {
		return nil, err
	}

	total, err := a.commissions.TotalPaid(c.Request.Context(), member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions: %w", err)
	}

	return gin.H{"account": member.WalletAddress, "total_paid": total.String()}, nil
}

// GetMonthlyPaid returns the commissions paid this calendar month
func (a *ReportingAPI) GetMonthlyPaid(c *gin.Context, params json.RawMessage) (interface{}, error) {
	member, _, err := a.resolveAccount(c, params)
	if err != nil {
		return nil, err
	}

	total, err := a.commissions.MonthlyPaid(c.Request.Context(), member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly commissions: %w", err)
	}

	return gin.H{"account": member.WalletAddress, "monthly_paid": total.String()}, nil
}

// GetStats returns commission totals and per-level referral activity
func (a *ReportingAPI) GetStats(c *gin.Context, params json.RawMessage) (interface{}, error) {
	member, _, err := a.resolveAccount(c, params)
	if err != nil {
		return nil, err
	}

	ctx := c.Request.Context()

	total, err := a.commissions.TotalPaid(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions: %w", err)
	}
	monthly, err := a.commissions.MonthlyPaid(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly commissions: %w", err)
	}
	counts, err := a.commissions.CountByLevel(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count commissions: %w", err)
	}
	downline, err := a.members.DownlineCounts(ctx, member.ID, models.MaxCommissionLevels)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}

	levels := make(map[string]gin.H, models.MaxCommissionLevels)
	for level := int16(1); level <= models.MaxCommissionLevels; level++ {
		levels[fmt.Sprintf("level%d", level)] = gin.H{
			"referrals":        downline[level].Total,
			"active_referrals": downline[level].Active,
			"commissions":      counts[level],
		}
	}

	return gin.H{
		"account":      member.WalletAddress,
		"total_paid":   total.String(),
		"monthly_paid": monthly.String(),
		"levels":       levels,
	}, nil
}

// GetPayment returns a payment row by transaction hash
func (a *ReportingAPI) GetPayment(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p paymentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.TxHash == "" {
		return nil, fmt.Errorf("tx_hash is required")
	}

	payment, err := a.payments.GetByTxHash(c.Request.Context(), p.TxHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %s not found", p.TxHash)
	}

	return gin.H{
		"tx_hash":          payment.TxHash,
		"payer_account":    payment.PayerAccount,
		"receiver_account": payment.ReceiverAccount,
		"amount":           payment.Amount.String(),
		"status":           payment.Status,
		"block_num":        payment.BlockNum,
		"block_hash":       payment.BlockHash,
		"recorded_at":      payment.RecordedAt,
		"processed_at":     payment.ProcessedAt,
	}, nil
}

// GetPlatformBalance returns the platform account's token balance, cached
// briefly so the reporting path does not hit the chain node per request
func (a *ReportingAPI) GetPlatformBalance(c *gin.Context, params json.RawMessage) (interface{}, error) {
	ctx := c.Request.Context()

	if cached, err := a.cache.Get(ctx, "platform:balance"); err == nil {
		return gin.H{"balance": cached, "cached": true}, nil
	}

	balance, err := a.balance.PlatformBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform balance: %w", err)
	}

	if err := a.cache.Set(ctx, "platform:balance", balance.String(), balanceCacheTTL); err != nil && err != cache.ErrCacheDisabled {
		a.logger.Debug("Failed to cache platform balance", zap.Error(err))
	}

	return gin.H{"balance": balance.String(), "cached": false}, nil
}

// resolveAccount binds the account params and resolves the member
func (a *ReportingAPI) resolveAccount(c *gin.Context, params json.RawMessage) (*models.Member, *accountParams, error) {
	var p accountParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Account == "" {
		return nil, nil, fmt.Errorf("account is required")
	}

	member, err := a.members.GetByWallet(c.Request.Context(), p.Account)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if member == nil {
		return nil, nil, fmt.Errorf("account %s not found", p.Account)
	}

	return member, &p, nil
}

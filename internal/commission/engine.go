package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/models"
	"github.com/membriq/chainpay/pkg/logging"
	"github.com/membriq/chainpay/pkg/telemetry"
)

// ReferralGraph resolves the parent pointer of the referral forest
type ReferralGraph interface {
	ReferrerOf(ctx context.Context, memberID int64) (*models.Member, error)
}

// Directory answers membership activity and payout address questions
type Directory interface {
	IsActive(ctx context.Context, memberID int64, at time.Time) (bool, error)
	PayoutAddressOf(ctx context.Context, memberID int64) (string, error)
}

// Ledger records commission rows and their outcomes
type Ledger interface {
	Create(ctx context.Context, commission *models.Commission) error
	MarkPaid(ctx context.Context, id int64, payoutTxHash string) error
	MarkFailed(ctx context.Context, id int64) error
}

// PayoutSender submits an outgoing transfer and returns its transaction hash
type PayoutSender interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error)
}

// Engine computes and disburses per-level referral payouts for one accepted
// payment. Rates are flat per level, independent of the payment amount; no
// aggregate reconciliation is performed against the payment.
type Engine struct {
	graph     ReferralGraph
	directory Directory
	ledger    Ledger
	sender    PayoutSender
	rates     [models.MaxCommissionLevels]decimal.Decimal
	logger    *zap.Logger
}

// NewEngine creates a new commission engine
func NewEngine(graph ReferralGraph, directory Directory, ledger Ledger, sender PayoutSender, rates [models.MaxCommissionLevels]decimal.Decimal) *Engine {
	return &Engine{
		graph:     graph,
		directory: directory,
		ledger:    ledger,
		sender:    sender,
		rates:     rates,
		logger:    logging.WithComponent("commission-engine"),
	}
}

// Process walks the payer's referral chain and disburses per-level payouts
// in ascending level order. A graph lookup failure aborts the remaining walk
// for this payment only, leaving already-created rows intact; everything
// else is recorded per row and never stops the siblings.
func (e *Engine) Process(ctx context.Context, payment *models.Payment) error {
	ctx, span := telemetry.StartSpan(ctx, "commission.process")
	defer span.End()

	logger := e.logger.With(
		zap.Int64("payment_id", payment.ID),
		zap.String("tx_hash", payment.TxHash))
	logger.Info("Processing commissions")

	now := time.Now().UTC()
	currentID := payment.PayerID

	for level := int16(1); level <= models.MaxCommissionLevels; level++ {
		ancestor, err := e.graph.ReferrerOf(ctx, currentID)
		if err != nil {
			// Transient graph failure: stop the walk, keep what exists
			logger.Error("Referral graph lookup failed, aborting remaining levels",
				zap.Int16("level", level), zap.Error(err))
			return err
		}
		if ancestor == nil {
			// Chain exhausted, not an error
			logger.Debug("Referral chain exhausted", zap.Int16("level", level))
			return nil
		}
		currentID = ancestor.ID

		active, err := e.directory.IsActive(ctx, ancestor.ID, now)
		if err != nil {
			logger.Error("Membership check failed, aborting remaining levels",
				zap.Int16("level", level), zap.Error(err))
			return err
		}
		if !active {
			// Skip without a row; later levels keep their chain position
			logger.Info("Skipping inactive beneficiary",
				zap.Int16("level", level),
				zap.Int64("beneficiary_id", ancestor.ID))
			continue
		}

		if err := e.payLevel(ctx, logger, payment, ancestor, level); err != nil {
			return err
		}
	}

	return nil
}

// payLevel creates one commission row and drives its disbursement. Only a
// failure to create the row propagates; disbursement failures are recorded
// on the row and swallowed.
func (e *Engine) payLevel(ctx context.Context, logger *zap.Logger, payment *models.Payment, beneficiary *models.Member, level int16) error {
	amount := e.rates[level-1]

	commission := &models.Commission{
		PaymentID:          payment.ID,
		BeneficiaryID:      beneficiary.ID,
		BeneficiaryAccount: beneficiary.WalletAddress,
		PayerAccount:       payment.PayerAccount,
		Level:              level,
		Amount:             amount,
		Status:             models.CommissionStatusPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := e.ledger.Create(ctx, commission); err != nil {
		logger.Error("Failed to create commission row",
			zap.Int16("level", level), zap.Error(err))
		return err
	}

	payoutAddress, err := e.directory.PayoutAddressOf(ctx, beneficiary.ID)
	if err != nil || payoutAddress == "" {
		logger.Warn("No payout address for beneficiary",
			zap.Int16("level", level),
			zap.Int64("beneficiary_id", beneficiary.ID),
			zap.Error(err))
		e.markFailed(ctx, logger, commission.ID, level)
		return nil
	}

	txHash, err := e.sender.Transfer(ctx, payoutAddress, amount)
	if err != nil {
		logger.Warn("Disbursement failed",
			zap.Int16("level", level),
			zap.Int64("beneficiary_id", beneficiary.ID),
			zap.Error(err))
		e.markFailed(ctx, logger, commission.ID, level)
		return nil
	}

	if err := e.ledger.MarkPaid(ctx, commission.ID, txHash); err != nil {
		logger.Error("Failed to mark commission paid",
			zap.Int16("level", level), zap.Error(err))
		return nil
	}

	logger.Info("Commission paid",
		zap.Int16("level", level),
		zap.Int64("beneficiary_id", beneficiary.ID),
		zap.String("amount", amount.String()),
		zap.String("payout_tx_hash", txHash))

	return nil
}

func (e *Engine) markFailed(ctx context.Context, logger *zap.Logger, commissionID int64, level int16) {
	if err := e.ledger.MarkFailed(ctx, commissionID); err != nil {
		logger.Error("Failed to mark commission failed",
			zap.Int16("level", level), zap.Error(err))
	}
}

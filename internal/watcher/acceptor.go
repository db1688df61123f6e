package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/chain"
	"github.com/membriq/chainpay/internal/models"
	"github.com/membriq/chainpay/pkg/logging"
	"github.com/membriq/chainpay/pkg/telemetry"
)

// PaymentLedger is the authoritative store of payments seen
type PaymentLedger interface {
	CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error)
	ListPending(ctx context.Context) ([]*models.Payment, error)
	MarkConfirmed(ctx context.Context, id int64, blockNum int64, blockHash string) (bool, error)
	MarkFailed(ctx context.Context, id int64) error
}

// MemberDirectory resolves payers and mutates membership expiry
type MemberDirectory interface {
	GetByWallet(ctx context.Context, wallet string) (*models.Member, error)
	ExtendMembership(ctx context.Context, memberID int64, until time.Time) error
}

// CommissionRunner fans an accepted payment out into referral payouts
type CommissionRunner interface {
	Process(ctx context.Context, payment *models.Payment) error
}

// AcceptanceResult classifies the outcome of one observed transfer
type AcceptanceResult int

const (
	// ResultRejected means the transfer failed the filter; nothing persisted
	ResultRejected AcceptanceResult = iota
	// ResultDuplicate means the transaction was already recorded
	ResultDuplicate
	// ResultAccepted means a new payment row was written
	ResultAccepted
)

func (r AcceptanceResult) String() string {
	switch r {
	case ResultRejected:
		return "rejected"
	case ResultDuplicate:
		return "duplicate"
	case ResultAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Acceptor is the single acceptance funnel both ingestion paths call. It
// turns an at-least-once stream of transfer events into at-most-once payment
// acceptance.
type Acceptor struct {
	ledger             PaymentLedger
	members            MemberDirectory
	engine             CommissionRunner
	receivingAddress   string
	minAmount          decimal.Decimal
	membershipDuration time.Duration
	logger             *zap.Logger
}

// NewAcceptor creates a new acceptor
func NewAcceptor(ledger PaymentLedger, members MemberDirectory, engine CommissionRunner, receivingAddress string, minAmount decimal.Decimal, membershipDuration time.Duration) *Acceptor {
	return &Acceptor{
		ledger:             ledger,
		members:            members,
		engine:             engine,
		receivingAddress:   strings.ToLower(receivingAddress),
		minAmount:          minAmount,
		membershipDuration: membershipDuration,
		logger:             logging.WithComponent("acceptor"),
	}
}

// AcceptTransfer processes one observed transfer. Rejections persist
// nothing, so re-seeing the same rejected transfer has no side effect; the
// unique insert on the transaction hash makes acceptance at-most-once.
func (a *Acceptor) AcceptTransfer(ctx context.Context, ev *chain.TransferEvent) (AcceptanceResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "watcher.accept_transfer")
	defer span.End()

	logger := a.logger.With(zap.String("tx_hash", ev.TxHash))

	// Filter before any persistence
	if !strings.EqualFold(ev.To, a.receivingAddress) {
		logger.Debug("Rejecting transfer to foreign address", zap.String("to", ev.To))
		return ResultRejected, nil
	}
	if ev.Value.LessThan(a.minAmount) {
		logger.Warn("Rejecting transfer below minimum amount",
			zap.String("amount", ev.Value.String()),
			zap.String("minimum", a.minAmount.String()))
		return ResultRejected, nil
	}

	payer, err := a.members.GetByWallet(ctx, ev.From)
	if err != nil {
		return ResultRejected, fmt.Errorf("failed to resolve payer %s: %w", ev.From, err)
	}
	if payer == nil {
		logger.Warn("Rejecting transfer from unknown wallet", zap.String("from", ev.From))
		return ResultRejected, nil
	}

	payment := &models.Payment{
		TxHash:          ev.TxHash,
		PayerID:         payer.ID,
		PayerAccount:    ev.From,
		ReceiverAccount: ev.To,
		Amount:          ev.Value,
		Status:          models.PaymentStatusPending,
		RecordedAt:      time.Now().UTC(),
	}

	// Live events carry a block reference; a transfer seen without one is
	// recorded pending and left for reconciliation
	confirmed := ev.BlockNumber > 0 && ev.BlockHash != ""
	if confirmed {
		now := time.Now().UTC()
		payment.Status = models.PaymentStatusConfirmed
		payment.BlockNum = &ev.BlockNumber
		blockHash := ev.BlockHash
		payment.BlockHash = &blockHash
		payment.ProcessedAt = &now
	}

	created, err := a.ledger.CreateIfAbsent(ctx, payment)
	if err != nil {
		return ResultRejected, fmt.Errorf("failed to record payment: %w", err)
	}
	if !created {
		logger.Info("Transaction already processed")
		return ResultDuplicate, nil
	}

	logger.Info("Payment accepted",
		zap.Int64("payer_id", payer.ID),
		zap.String("amount", ev.Value.String()),
		zap.String("status", payment.Status))

	if confirmed {
		a.finalize(ctx, payment)
	}

	return ResultAccepted, nil
}

// finalize extends the payer's membership and runs the commission engine for
// a confirmed payment. Errors are logged, never propagated: one bad payout
// run must not stop processing of subsequent transfers.
func (a *Acceptor) finalize(ctx context.Context, payment *models.Payment) {
	// Expiry is duration from now, not from the previous expiry
	until := time.Now().UTC().Add(a.membershipDuration)
	if err := a.members.ExtendMembership(ctx, payment.PayerID, until); err != nil {
		a.logger.Error("Failed to extend membership",
			zap.String("tx_hash", payment.TxHash),
			zap.Int64("payer_id", payment.PayerID),
			zap.Error(err))
	} else {
		a.logger.Info("Membership extended",
			zap.Int64("payer_id", payment.PayerID),
			zap.Time("expires_at", until))
	}

	if err := a.engine.Process(ctx, payment); err != nil {
		a.logger.Error("Commission run aborted",
			zap.String("tx_hash", payment.TxHash),
			zap.Error(err))
	}
}

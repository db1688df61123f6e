package watcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/chain"
	"github.com/membriq/chainpay/internal/models"
	"github.com/membriq/chainpay/pkg/logging"
	"github.com/membriq/chainpay/pkg/telemetry"
)

// ReceiptReader fetches transaction receipts from the chain. The map holds
// nil for transactions not mined yet and is missing hashes whose fetch
// failed.
type ReceiptReader interface {
	GetTransactionReceipts(ctx context.Context, txHashes []string) (map[string]*chain.Receipt, error)
}

// Reconciler re-checks payments recorded as pending against the chain's
// current state. It catches transfers whose finality was unknown when seen
// and events missed while the process was not running.
type Reconciler struct {
	ledger   PaymentLedger
	receipts ReceiptReader
	acceptor *Acceptor
	logger   *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(ledger PaymentLedger, receipts ReceiptReader, acceptor *Acceptor) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		receipts: receipts,
		acceptor: acceptor,
		logger:   logging.WithComponent("reconciler"),
	}
}

// Sweep walks every pending payment once. Per-item failures are logged and
// skipped; the payment stays pending and the next sweep retries it.
func (r *Reconciler) Sweep(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "watcher.reconcile_sweep")
	defer span.End()

	pending, err := r.ledger.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logger.Debug("No pending payments to reconcile")
		return nil
	}

	r.logger.Info("Reconciling pending payments", zap.Int("count", len(pending)))

	txHashes := make([]string, len(pending))
	for i, payment := range pending {
		txHashes[i] = payment.TxHash
	}
	receipts, err := r.receipts.GetTransactionReceipts(ctx, txHashes)
	if err != nil {
		return err
	}

	for _, payment := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logger := r.logger.With(
			zap.Int64("payment_id", payment.ID),
			zap.String("tx_hash", payment.TxHash))

		receipt, ok := receipts[payment.TxHash]
		if !ok {
			logger.Warn("Receipt fetch failed, will retry next sweep")
			continue
		}
		if receipt == nil {
			logger.Debug("Transaction not mined yet")
			continue
		}

		if receipt.Status == 1 {
			// The pending->confirmed transition guards against a concurrent
			// sweep finalizing the same payment twice
			confirmed, err := r.ledger.MarkConfirmed(ctx, payment.ID, receipt.BlockNumber, receipt.BlockHash)
			if err != nil {
				logger.Warn("Failed to confirm payment, will retry next sweep", zap.Error(err))
				continue
			}
			if !confirmed {
				logger.Info("Payment already confirmed elsewhere")
				continue
			}

			payment.Status = models.PaymentStatusConfirmed
			payment.BlockNum = &receipt.BlockNumber
			blockHash := receipt.BlockHash
			payment.BlockHash = &blockHash

			// Once the transition is ours the membership extension and
			// commission run must finish even if shutdown starts meanwhile
			r.acceptor.finalize(context.WithoutCancel(ctx), payment)
			logger.Info("Reconciled pending payment")
		} else {
			if err := r.ledger.MarkFailed(ctx, payment.ID); err != nil {
				logger.Warn("Failed to mark payment failed, will retry next sweep", zap.Error(err))
				continue
			}
			logger.Warn("Transaction reverted on chain")
		}
	}

	return nil
}

package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/membriq/chainpay/internal/chain"
	"github.com/membriq/chainpay/internal/models"
)

type fakeReceipts struct {
	byTxHash map[string]*chain.Receipt
	errFor   map[string]error
}

func (r *fakeReceipts) GetTransactionReceipts(ctx context.Context, txHashes []string) (map[string]*chain.Receipt, error) {
	receipts := make(map[string]*chain.Receipt, len(txHashes))
	for _, txHash := range txHashes {
		if r.errFor[txHash] != nil {
			continue
		}
		receipts[txHash] = r.byTxHash[txHash]
	}
	return receipts, nil
}

func pendingPayment(ledger *fakeLedger, txHash string) *models.Payment {
	ledger.nextID++
	payment := &models.Payment{
		ID:           ledger.nextID,
		TxHash:       txHash,
		PayerID:      1,
		PayerAccount: payerWallet,
		Amount:       decimal.NewFromInt(10),
		Status:       models.PaymentStatusPending,
		RecordedAt:   time.Now().UTC(),
	}
	ledger.byTxHash[txHash] = payment
	return payment
}

func newTestReconciler(ledger *fakeLedger, members *fakeMembers, engine *fakeEngine, receipts *fakeReceipts) *Reconciler {
	acceptor := newTestAcceptor(ledger, members, engine)
	return NewReconciler(ledger, receipts, acceptor)
}

func TestSweepConfirmsPending(t *testing.T) {
	ledger := newFakeLedger()
	members := newFakeMembers()
	engine := &fakeEngine{}
	pendingPayment(ledger, "0xmissed")

	receipts := &fakeReceipts{byTxHash: map[string]*chain.Receipt{
		"0xmissed": {TxHash: "0xmissed", Status: 1, BlockNumber: 500, BlockHash: "0xblock"},
	}}

	reconciler := newTestReconciler(ledger, members, engine, receipts)
	if err := reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	payment := ledger.byTxHash["0xmissed"]
	if payment.Status != models.PaymentStatusConfirmed {
		t.Errorf("Expected confirmed status, got: %s", payment.Status)
	}
	if payment.BlockNum == nil || *payment.BlockNum != 500 {
		t.Error("Expected block reference set")
	}
	if len(engine.runs) != 1 {
		t.Errorf("Expected 1 commission run, got %d", len(engine.runs))
	}
	if _, ok := members.extensions[1]; !ok {
		t.Error("Expected membership extension")
	}

	// Second sweep finds nothing pending: commissioning happened exactly once
	if err := reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if len(engine.runs) != 1 {
		t.Errorf("Expected exactly one commission run after re-sweep, got %d", len(engine.runs))
	}
}

func TestSweepMarksReverted(t *testing.T) {
	ledger := newFakeLedger()
	engine := &fakeEngine{}
	pendingPayment(ledger, "0xreverted")

	receipts := &fakeReceipts{byTxHash: map[string]*chain.Receipt{
		"0xreverted": {TxHash: "0xreverted", Status: 0, BlockNumber: 500, BlockHash: "0xblock"},
	}}

	reconciler := newTestReconciler(ledger, newFakeMembers(), engine, receipts)
	if err := reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if ledger.byTxHash["0xreverted"].Status != models.PaymentStatusFailed {
		t.Errorf("Expected failed status, got: %s", ledger.byTxHash["0xreverted"].Status)
	}
	if len(engine.runs) != 0 {
		t.Errorf("Expected no commission run for reverted payment, got %d", len(engine.runs))
	}
}

func TestSweepLeavesUnminedPending(t *testing.T) {
	ledger := newFakeLedger()
	pendingPayment(ledger, "0xunmined")

	receipts := &fakeReceipts{byTxHash: map[string]*chain.Receipt{}}

	reconciler := newTestReconciler(ledger, newFakeMembers(), &fakeEngine{}, receipts)
	if err := reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if ledger.byTxHash["0xunmined"].Status != models.PaymentStatusPending {
		t.Errorf("Expected payment to stay pending, got: %s", ledger.byTxHash["0xunmined"].Status)
	}
}

func TestSweepIsolatesPerItemErrors(t *testing.T) {
	ledger := newFakeLedger()
	engine := &fakeEngine{}
	pendingPayment(ledger, "0xbroken")
	pendingPayment(ledger, "0xfine")

	receipts := &fakeReceipts{
		byTxHash: map[string]*chain.Receipt{
			"0xfine": {TxHash: "0xfine", Status: 1, BlockNumber: 501, BlockHash: "0xblock"},
		},
		errFor: map[string]error{
			"0xbroken": errors.New("rpc timeout"),
		},
	}

	reconciler := newTestReconciler(ledger, newFakeMembers(), engine, receipts)
	if err := reconciler.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if ledger.byTxHash["0xbroken"].Status != models.PaymentStatusPending {
		t.Error("Broken item must stay pending for the next sweep")
	}
	if ledger.byTxHash["0xfine"].Status != models.PaymentStatusConfirmed {
		t.Error("Healthy item must still be confirmed")
	}
	if len(engine.runs) != 1 {
		t.Errorf("Expected 1 commission run, got %d", len(engine.runs))
	}
}

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

const (
	receivingAddr = "0xaaaa000000000000000000000000000000000001"
	payerWallet   = "0xbbbb000000000000000000000000000000000002"
)

type fakeLedger struct {
	byTxHash  map[string]*models.Payment
	nextID    int64
	createErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byTxHash: make(map[string]*models.Payment)}
}

func (l *fakeLedger) CreateIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	if l.createErr != nil {
		return false, l.createErr
	}
	if _, exists := l.byTxHash[payment.TxHash]; exists {
		return false, nil
	}
	l.nextID++
	payment.ID = l.nextID
	l.byTxHash[payment.TxHash] = payment
	return true, nil
}

func (l *fakeLedger) ListPending(ctx context.Context) ([]*models.Payment, error) {
	var pending []*models.Payment
	for _, p := range l.byTxHash {
		if p.Status == models.PaymentStatusPending {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

func (l *fakeLedger) MarkConfirmed(ctx context.Context, id int64, blockNum int64, blockHash string) (bool, error) {
	for _, p := range l.byTxHash {
		if p.ID == id && p.Status == models.PaymentStatusPending {
			p.Status = models.PaymentStatusConfirmed
			p.BlockNum = &blockNum
			p.BlockHash = &blockHash
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) MarkFailed(ctx context.Context, id int64) error {
	for _, p := range l.byTxHash {
		if p.ID == id && p.Status == models.PaymentStatusPending {
			p.Status = models.PaymentStatusFailed
		}
	}
	return nil
}

type fakeMembers struct {
	byWallet   map[string]*models.Member
	extensions map[int64]time.Time
	lookupErr  error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{
		byWallet:   map[string]*models.Member{payerWallet: {ID: 1, WalletAddress: payerWallet}},
		extensions: make(map[int64]time.Time),
	}
}

func (m *fakeMembers) GetByWallet(ctx context.Context, wallet string) (*models.Member, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	return m.byWallet[wallet], nil
}

func (m *fakeMembers) ExtendMembership(ctx context.Context, memberID int64, until time.Time) error {
	m.extensions[memberID] = until
	return nil
}

type fakeEngine struct {
	runs []*models.Payment
}

func (e *fakeEngine) Process(ctx context.Context, payment *models.Payment) error {
	e.runs = append(e.runs, payment)
	return nil
}

func qualifyingEvent() *chain.TransferEvent {
	return &chain.TransferEvent{
		From:        payerWallet,
		To:          receivingAddr,
		Value:       decimal.NewFromInt(10),
		TxHash:      "0xabc",
		BlockNumber: 1000,
		BlockHash:   "0xblock",
	}
}

func newTestAcceptor(ledger *fakeLedger, members *fakeMembers, engine *fakeEngine) *Acceptor {
	return NewAcceptor(ledger, members, engine, receivingAddr, decimal.NewFromInt(10), 28*24*time.Hour)
}

func TestAcceptTransfer(t *testing.T) {
	ledger := newFakeLedger()
	members := newFakeMembers()
	engine := &fakeEngine{}
	acceptor := newTestAcceptor(ledger, members, engine)

	result, err := acceptor.AcceptTransfer(context.Background(), qualifyingEvent())
	if err != nil {
		t.Fatalf("AcceptTransfer failed: %v", err)
	}
	if result != ResultAccepted {
		t.Fatalf("Expected accepted, got: %s", result)
	}

	payment := ledger.byTxHash["0xabc"]
	if payment == nil {
		t.Fatal("Expected payment row")
	}
	if payment.Status != models.PaymentStatusConfirmed {
		t.Errorf("Expected confirmed status, got: %s", payment.Status)
	}
	if payment.BlockNum == nil || *payment.BlockNum != 1000 {
		t.Error("Expected block reference on payment")
	}
	if _, ok := members.extensions[1]; !ok {
		t.Error("Expected membership extension for payer")
	}
	if len(engine.runs) != 1 {
		t.Errorf("Expected 1 commission run, got %d", len(engine.runs))
	}
}

func TestAcceptTransferIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	members := newFakeMembers()
	engine := &fakeEngine{}
	acceptor := newTestAcceptor(ledger, members, engine)

	if _, err := acceptor.AcceptTransfer(context.Background(), qualifyingEvent()); err != nil {
		t.Fatalf("First accept failed: %v", err)
	}

	result, err := acceptor.AcceptTransfer(context.Background(), qualifyingEvent())
	if err != nil {
		t.Fatalf("Second accept failed: %v", err)
	}
	if result != ResultDuplicate {
		t.Fatalf("Expected duplicate, got: %s", result)
	}

	if len(ledger.byTxHash) != 1 {
		t.Errorf("Expected exactly one payment row, got %d", len(ledger.byTxHash))
	}
	if len(engine.runs) != 1 {
		t.Errorf("Expected exactly one commission run, got %d", len(engine.runs))
	}
}

func TestAcceptTransferFilter(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ev *chain.TransferEvent)
	}{
		{"wrong recipient", func(ev *chain.TransferEvent) {
			ev.To = "0xcccc000000000000000000000000000000000003"
		}},
		{"below minimum", func(ev *chain.TransferEvent) {
			ev.Value = decimal.RequireFromString("9.999999")
		}},
		{"unknown wallet", func(ev *chain.TransferEvent) {
			ev.From = "0xdddd000000000000000000000000000000000004"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			members := newFakeMembers()
			engine := &fakeEngine{}
			acceptor := newTestAcceptor(ledger, members, engine)

			ev := qualifyingEvent()
			tt.mutate(ev)

			result, err := acceptor.AcceptTransfer(context.Background(), ev)
			if err != nil {
				t.Fatalf("AcceptTransfer failed: %v", err)
			}
			if result != ResultRejected {
				t.Fatalf("Expected rejected, got: %s", result)
			}
			if len(ledger.byTxHash) != 0 {
				t.Errorf("Rejection must persist nothing, got %d rows", len(ledger.byTxHash))
			}
			if len(engine.runs) != 0 {
				t.Errorf("Rejection must not run the engine, got %d runs", len(engine.runs))
			}

			// Re-seeing the same rejected transfer is side-effect free
			if result, _ := acceptor.AcceptTransfer(context.Background(), ev); result != ResultRejected {
				t.Errorf("Expected repeated rejection, got: %s", result)
			}
		})
	}
}

func TestAcceptTransferMixedCaseRecipient(t *testing.T) {
	ledger := newFakeLedger()
	acceptor := newTestAcceptor(ledger, newFakeMembers(), &fakeEngine{})

	ev := qualifyingEvent()
	ev.To = "0xAAAA000000000000000000000000000000000001"

	result, err := acceptor.AcceptTransfer(context.Background(), ev)
	if err != nil {
		t.Fatalf("AcceptTransfer failed: %v", err)
	}
	if result != ResultAccepted {
		t.Errorf("Address comparison must be case-insensitive, got: %s", result)
	}
}

func TestAcceptTransferWithoutBlockRefStaysPending(t *testing.T) {
	ledger := newFakeLedger()
	members := newFakeMembers()
	engine := &fakeEngine{}
	acceptor := newTestAcceptor(ledger, members, engine)

	ev := qualifyingEvent()
	ev.BlockNumber = 0
	ev.BlockHash = ""

	result, err := acceptor.AcceptTransfer(context.Background(), ev)
	if err != nil {
		t.Fatalf("AcceptTransfer failed: %v", err)
	}
	if result != ResultAccepted {
		t.Fatalf("Expected accepted, got: %s", result)
	}

	payment := ledger.byTxHash["0xabc"]
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected pending status, got: %s", payment.Status)
	}
	// A pending payment is finished by the reconciler, not at acceptance
	if len(engine.runs) != 0 {
		t.Errorf("Expected no commission run for pending payment, got %d", len(engine.runs))
	}
	if len(members.extensions) != 0 {
		t.Error("Expected no membership extension for pending payment")
	}
}

func TestAcceptTransferTransientLookupFailure(t *testing.T) {
	ledger := newFakeLedger()
	members := newFakeMembers()
	members.lookupErr = errors.New("directory unavailable")
	acceptor := newTestAcceptor(ledger, members, &fakeEngine{})

	if _, err := acceptor.AcceptTransfer(context.Background(), qualifyingEvent()); err == nil {
		t.Fatal("Expected error for transient directory failure")
	}
	if len(ledger.byTxHash) != 0 {
		t.Error("Transient failure must persist nothing")
	}
}

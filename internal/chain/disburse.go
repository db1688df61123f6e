package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/pkg/logging"
)

// Disburser sends outgoing token transfers from the platform account.
// All sends go through one mutex: the platform account's balance and nonce
// are a single shared resource, even though commission computation for
// distinct payments runs concurrently.
type Disburser struct {
	client *Client
	mu     sync.Mutex
	logger *zap.Logger
}

// NewDisburser creates a new disburser over the chain client
func NewDisburser(client *Client) *Disburser {
	return &Disburser{
		client: client,
		logger: logging.WithComponent("disburser"),
	}
}

// Transfer sends the amount to the recipient and waits for the transfer to
// mine. Returns the payout transaction hash on success; a reverted transfer
// is an error.
func (d *Disburser) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if !IsValidAddress(to) {
		return "", fmt.Errorf("invalid payout address: %q", to)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("payout amount must be positive, got %s", amount)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	txHash, err := d.client.SendTokenTransfer(ctx, to, amount)
	if err != nil {
		return "", err
	}

	receipt, err := d.client.WaitMined(ctx, txHash)
	if err != nil {
		return "", err
	}
	if receipt.Status != 1 {
		return "", fmt.Errorf("transfer %s reverted", txHash)
	}

	d.logger.Info("Disbursement mined",
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))

	return txHash, nil
}

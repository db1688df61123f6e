package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/pkg/config"
	"github.com/membriq/chainpay/pkg/logging"
	"github.com/membriq/chainpay/pkg/telemetry"
)

// Client wraps the chain node RPC client for the token operations this
// system needs: reading transfer logs and receipts, checking the platform
// balance, and submitting outgoing transfers
type Client struct {
	rpc              *RPCClient
	tokenContract    string
	receivingAddress string
	platformAccount  string
	miningTimeout    time.Duration
	logger           *zap.Logger
}

// New creates a new chain client
func New(cfg *config.ChainConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required")
	}
	if !IsValidAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("token_contract is not a valid address: %s", cfg.TokenContract)
	}
	if !IsValidAddress(cfg.ReceivingAddress) {
		return nil, fmt.Errorf("receiving_address is not a valid address: %s", cfg.ReceivingAddress)
	}

	logger := logging.WithComponent("chain-client")

	rpcClient := NewRPCClient(cfg.RPCURL, cfg.RPCTimeout, logger)

	client := &Client{
		rpc:              rpcClient,
		tokenContract:    strings.ToLower(cfg.TokenContract),
		receivingAddress: strings.ToLower(cfg.ReceivingAddress),
		platformAccount:  strings.ToLower(cfg.PlatformAccount),
		miningTimeout:    cfg.MiningTimeout,
		logger:           logger,
	}

	logger.Info("Chain client initialized",
		zap.String("url", cfg.RPCURL),
		zap.String("token", client.tokenContract),
		zap.String("receiving", client.receivingAddress))

	return client, nil
}

// ReceivingAddress returns the platform's receiving address
func (c *Client) ReceivingAddress() string {
	return c.receivingAddress
}

// HeadBlock returns the current head block number
func (c *Client) HeadBlock(ctx context.Context) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.head_block")
	defer span.End()

	result, err := c.rpc.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, fmt.Errorf("failed to get head block: %w", err)
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal head block: %w", err)
	}

	return parseHexInt64(hex)
}

// GetTransferLogs fetches token Transfer events addressed to the platform
// receiving account in the given block range. Malformed logs are skipped
// with a warning; they never fail the batch.
func (c *Client) GetTransferLogs(ctx context.Context, from, to int64) ([]*TransferEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_transfer_logs")
	defer span.End()

	if to < from {
		return nil, fmt.Errorf("invalid range: to (%d) < from (%d)", to, from)
	}

	filter := map[string]interface{}{
		"fromBlock": toHexBlock(from),
		"toBlock":   toHexBlock(to),
		"address":   c.tokenContract,
		"topics": []interface{}{
			TransferEventTopic,
			nil,
			addressTopic(c.receivingAddress),
		},
	}

	result, err := c.rpc.Call(ctx, "eth_getLogs", filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs %d-%d: %w", from, to, err)
	}

	var logs []rawLog
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}

	events := make([]*TransferEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := decodeTransferLog(log)
		if err != nil {
			c.logger.Warn("Dropping malformed transfer log",
				zap.String("tx_hash", log.TransactionHash),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// GetTransactionReceipt fetches the receipt for a transaction. Returns nil
// when the transaction is not mined yet.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_transaction_receipt")
	defer span.End()

	result, err := c.rpc.Call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	return decodeReceipt(result)
}

// GetTransactionReceipts fetches receipts for a set of transactions in one
// batched round trip. The result maps each hash to its receipt, nil when the
// transaction is not mined yet; hashes whose fetch failed are absent.
func (c *Client) GetTransactionReceipts(ctx context.Context, txHashes []string) (map[string]*Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_transaction_receipts")
	defer span.End()

	if len(txHashes) == 0 {
		return map[string]*Receipt{}, nil
	}

	requests := make([]RPCRequest, len(txHashes))
	for i, txHash := range txHashes {
		requests[i] = RPCRequest{
			JSONRPC: "2.0",
			ID:      i,
			Method:  "eth_getTransactionReceipt",
			Params:  []interface{}{txHash},
		}
	}

	responses, err := c.rpc.CallBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %d receipts: %w", len(txHashes), err)
	}

	receipts := make(map[string]*Receipt, len(txHashes))
	for _, resp := range responses {
		if resp.ID < 0 || resp.ID >= len(txHashes) {
			c.logger.Warn("Dropping batch response with unknown id", zap.Int("id", resp.ID))
			continue
		}
		txHash := txHashes[resp.ID]
		if resp.Error != nil {
			c.logger.Warn("Receipt fetch failed in batch",
				zap.String("tx_hash", txHash),
				zap.Int("code", resp.Error.Code),
				zap.String("message", resp.Error.Message))
			continue
		}
		receipt, err := decodeReceipt(resp.Result)
		if err != nil {
			c.logger.Warn("Dropping malformed receipt",
				zap.String("tx_hash", txHash),
				zap.Error(err))
			continue
		}
		receipts[txHash] = receipt
	}

	return receipts, nil
}

// BalanceOf returns the token balance of an address
func (c *Client) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.balance_of")
	defer span.End()

	calldata, err := balanceOfCalldata(address)
	if err != nil {
		return decimal.Zero, err
	}

	result, err := c.rpc.Call(ctx, "eth_call", map[string]interface{}{
		"to":   c.tokenContract,
		"data": calldata,
	}, "latest")
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unmarshal balance: %w", err)
	}

	value, err := parseQuantityWord(hex)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed balance for %s: %w", address, err)
	}

	return fromTokenUnits(value), nil
}

// PlatformBalance returns the token balance of the platform account
func (c *Client) PlatformBalance(ctx context.Context) (decimal.Decimal, error) {
	return c.BalanceOf(ctx, c.platformAccount)
}

// SendTokenTransfer submits a token transfer from the platform account.
// Signing is delegated to the signer behind the RPC endpoint; the config
// names the sending account.
func (c *Client) SendTokenTransfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.send_token_transfer")
	defer span.End()

	calldata, err := transferCalldata(to, amount)
	if err != nil {
		return "", err
	}

	result, err := c.rpc.Call(ctx, "eth_sendTransaction", map[string]interface{}{
		"from": c.platformAccount,
		"to":   c.tokenContract,
		"data": calldata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit transfer to %s: %w", to, err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("failed to unmarshal transfer tx hash: %w", err)
	}

	return txHash, nil
}

// WaitMined polls for a transaction receipt until it is mined or the mining
// timeout elapses
func (c *Client) WaitMined(ctx context.Context, txHash string) (*Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.wait_mined")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.miningTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			c.logger.Debug("Receipt poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for %s to mine: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TransferEventTopic is the keccak hash of Transfer(address,address,uint256)
const TransferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ERC-20 function selectors
const (
	transferSelector  = "0xa9059cbb"
	balanceOfSelector = "0x70a08231"
)

// TokenDecimals is the token's native precision (USDC uses 6)
const TokenDecimals = 6

// TransferEvent is the wire shape of an on-chain token transfer, the one
// bit-exact contract consumed from the chain
type TransferEvent struct {
	From        string
	To          string
	Value       decimal.Decimal
	TxHash      string
	BlockNumber int64
	BlockHash   string
}

// rawLog is the eth_getLogs entry shape
type rawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	BlockHash       string   `json:"blockHash"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

// Receipt is the relevant slice of an eth_getTransactionReceipt result
type Receipt struct {
	TxHash      string
	Status      int64
	BlockNumber int64
	BlockHash   string
}

// rawReceipt is the eth_getTransactionReceipt result shape
type rawReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
	BlockHash       string `json:"blockHash"`
}

// decodeTransferLog decodes one Transfer log into a TransferEvent
func decodeTransferLog(log rawLog) (*TransferEvent, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	if !strings.EqualFold(log.Topics[0], TransferEventTopic) {
		return nil, fmt.Errorf("not a Transfer event: %s", log.Topics[0])
	}
	if log.TransactionHash == "" {
		return nil, fmt.Errorf("missing transaction hash")
	}

	from, err := topicToAddress(log.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("invalid from topic: %w", err)
	}
	to, err := topicToAddress(log.Topics[2])
	if err != nil {
		return nil, fmt.Errorf("invalid to topic: %w", err)
	}

	value, err := parseQuantityWord(log.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid value data: %w", err)
	}

	blockNum, err := parseHexInt64(log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("invalid block number: %w", err)
	}

	return &TransferEvent{
		From:        from,
		To:          to,
		Value:       fromTokenUnits(value),
		TxHash:      log.TransactionHash,
		BlockNumber: blockNum,
		BlockHash:   log.BlockHash,
	}, nil
}

// decodeReceipt decodes an eth_getTransactionReceipt result; nil result
// means the transaction is not mined yet
func decodeReceipt(result json.RawMessage) (*Receipt, error) {
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var raw rawReceipt
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, err := parseHexInt64(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt status: %w", err)
	}
	blockNum, err := parseHexInt64(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt block number: %w", err)
	}

	return &Receipt{
		TxHash:      raw.TransactionHash,
		Status:      status,
		BlockNumber: blockNum,
		BlockHash:   raw.BlockHash,
	}, nil
}

// transferCalldata builds transfer(address,uint256) calldata
func transferCalldata(to string, amount decimal.Decimal) (string, error) {
	if !IsValidAddress(to) {
		return "", fmt.Errorf("invalid recipient address: %s", to)
	}
	return transferSelector + padAddress(to) + padQuantity(toTokenUnits(amount)), nil
}

// balanceOfCalldata builds balanceOf(address) calldata
func balanceOfCalldata(owner string) (string, error) {
	if !IsValidAddress(owner) {
		return "", fmt.Errorf("invalid owner address: %s", owner)
	}
	return balanceOfSelector + padAddress(owner), nil
}

// IsValidAddress reports whether s is a well-formed EVM address
func IsValidAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

// fromTokenUnits converts a raw token quantity to a decimal amount
func fromTokenUnits(value *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(value, -TokenDecimals)
}

// toTokenUnits converts a decimal amount to a raw token quantity,
// truncating anything below the token's precision
func toTokenUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(TokenDecimals).Truncate(0).BigInt()
}

// topicToAddress extracts the address from a 32-byte indexed topic
func topicToAddress(topic string) (string, error) {
	hex := strings.TrimPrefix(topic, "0x")
	if len(hex) != 64 {
		return "", fmt.Errorf("topic must be 32 bytes, got %d hex chars", len(hex))
	}
	addr := "0x" + hex[24:]
	if !IsValidAddress(addr) {
		return "", fmt.Errorf("topic does not encode an address: %s", topic)
	}
	return strings.ToLower(addr), nil
}

// parseQuantityWord parses a 32-byte ABI quantity from log data
func parseQuantityWord(data string) (*big.Int, error) {
	hex := strings.TrimPrefix(data, "0x")
	if hex == "" {
		return nil, fmt.Errorf("empty data word")
	}
	value, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex quantity: %s", data)
	}
	return value, nil
}

// parseHexInt64 parses a 0x-prefixed hex quantity into an int64
func parseHexInt64(s string) (int64, error) {
	hex := strings.TrimPrefix(s, "0x")
	if hex == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	value, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return 0, fmt.Errorf("malformed hex quantity: %s", s)
	}
	if !value.IsInt64() {
		return 0, fmt.Errorf("hex quantity overflows int64: %s", s)
	}
	return value.Int64(), nil
}

// toHexBlock formats a block number as a 0x-prefixed hex quantity
func toHexBlock(num int64) string {
	return fmt.Sprintf("0x%x", num)
}

// padAddress left-pads an address to a 32-byte ABI word
func padAddress(addr string) string {
	return strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

// padQuantity left-pads a quantity to a 32-byte ABI word
func padQuantity(value *big.Int) string {
	hex := value.Text(16)
	return strings.Repeat("0", 64-len(hex)) + hex
}

// addressTopic formats an address as a 32-byte topic filter value
func addressTopic(addr string) string {
	return "0x" + padAddress(addr)
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

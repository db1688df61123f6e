package chain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecodeTransferLog(t *testing.T) {
	valid := rawLog{
		Address: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		Topics: []string{
			TransferEventTopic,
			"0x000000000000000000000000a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0",
			"0x000000000000000000000000ffeeddccbbaa99887766554433221100ffeeddcc",
		},
		Data:            "0x0000000000000000000000000000000000000000000000000000000000989680",
		BlockNumber:     "0x3e8",
		BlockHash:       "0xabc123",
		TransactionHash: "0xdeadbeef",
	}

	event, err := decodeTransferLog(valid)
	if err != nil {
		t.Fatalf("decodeTransferLog failed: %v", err)
	}

	if event.From != "0xa1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0" {
		t.Errorf("Unexpected from address: %s", event.From)
	}
	if event.To != "0xffeeddccbbaa99887766554433221100ffeeddcc" {
		t.Errorf("Unexpected to address: %s", event.To)
	}
	// 0x989680 = 10000000 raw units = 10.000000 tokens
	if !event.Value.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected value 10, got: %s", event.Value)
	}
	if event.BlockNumber != 1000 {
		t.Errorf("Expected block 1000, got: %d", event.BlockNumber)
	}
	if event.TxHash != "0xdeadbeef" {
		t.Errorf("Unexpected tx hash: %s", event.TxHash)
	}
}

func TestDecodeTransferLogMalformed(t *testing.T) {
	base := rawLog{
		Topics: []string{
			TransferEventTopic,
			"0x000000000000000000000000a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0",
			"0x000000000000000000000000ffeeddccbbaa99887766554433221100ffeeddcc",
		},
		Data:            "0x0000000000000000000000000000000000000000000000000000000000989680",
		BlockNumber:     "0x3e8",
		TransactionHash: "0xdeadbeef",
	}

	tests := []struct {
		name   string
		mutate func(log *rawLog)
	}{
		{"missing topics", func(log *rawLog) { log.Topics = log.Topics[:1] }},
		{"wrong event topic", func(log *rawLog) { log.Topics[0] = "0x1234" }},
		{"missing tx hash", func(log *rawLog) { log.TransactionHash = "" }},
		{"bad value data", func(log *rawLog) { log.Data = "0xzz" }},
		{"empty value data", func(log *rawLog) { log.Data = "" }},
		{"bad block number", func(log *rawLog) { log.BlockNumber = "not-hex" }},
		{"short from topic", func(log *rawLog) { log.Topics[1] = "0x1234" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := base
			log.Topics = append([]string{}, base.Topics...)
			tt.mutate(&log)
			if _, err := decodeTransferLog(log); err == nil {
				t.Error("Expected error for malformed log")
			}
		})
	}
}

func TestDecodeReceipt(t *testing.T) {
	result := json.RawMessage(`{
		"transactionHash": "0xabc",
		"status": "0x1",
		"blockNumber": "0x10",
		"blockHash": "0xblockhash"
	}`)

	receipt, err := decodeReceipt(result)
	if err != nil {
		t.Fatalf("decodeReceipt failed: %v", err)
	}
	if receipt.Status != 1 {
		t.Errorf("Expected status 1, got: %d", receipt.Status)
	}
	if receipt.BlockNumber != 16 {
		t.Errorf("Expected block 16, got: %d", receipt.BlockNumber)
	}
}

func TestDecodeReceiptNotMined(t *testing.T) {
	receipt, err := decodeReceipt(json.RawMessage("null"))
	if err != nil {
		t.Fatalf("decodeReceipt failed: %v", err)
	}
	if receipt != nil {
		t.Error("Expected nil receipt for unmined transaction")
	}
}

func TestTransferCalldata(t *testing.T) {
	calldata, err := transferCalldata("0xFFeeDDccBBaa99887766554433221100ffEEddCC", decimal.RequireFromString("3.5"))
	if err != nil {
		t.Fatalf("transferCalldata failed: %v", err)
	}

	// 3.5 tokens = 3500000 raw units = 0x3567e0
	expected := "0xa9059cbb" +
		"000000000000000000000000ffeeddccbbaa99887766554433221100ffeeddcc" +
		"00000000000000000000000000000000000000000000000000000000003567e0"
	if calldata != expected {
		t.Errorf("Unexpected calldata:\ngot:  %s\nwant: %s", calldata, expected)
	}

	if _, err := transferCalldata("not-an-address", decimal.NewFromInt(1)); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestTokenUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		raw    int64
	}{
		{"whole", "10", 10000000},
		{"fractional", "3.5", 3500000},
		{"full precision", "0.000001", 1},
		{"below precision truncates", "0.0000019", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := toTokenUnits(decimal.RequireFromString(tt.amount))
			if raw.Cmp(big.NewInt(tt.raw)) != 0 {
				t.Errorf("toTokenUnits(%s) = %s, want %d", tt.amount, raw, tt.raw)
			}
		})
	}

	back := fromTokenUnits(big.NewInt(3500000))
	if !back.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("fromTokenUnits(3500000) = %s, want 3.5", back)
	}
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"valid lower", "0x2791bca1f2de4661ed88a30c99a7a9449aa84174", true},
		{"valid mixed", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", true},
		{"missing prefix", "2791bca1f2de4661ed88a30c99a7a9449aa84174", false},
		{"too short", "0x2791bca1", false},
		{"non-hex chars", "0x2791bca1f2de4661ed88a30c99a7a9449aa8417g", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.address); got != tt.valid {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tt.address, got, tt.valid)
			}
		})
	}
}

func TestParseHexInt64(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"small", "0x1", 1, false},
		{"block number", "0x3e8", 1000, false},
		{"no prefix", "ff", 255, false},
		{"empty", "", 0, true},
		{"not hex", "0xzz", 0, true},
		{"overflow", "0xffffffffffffffffff", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHexInt64(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHexInt64(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseHexInt64(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

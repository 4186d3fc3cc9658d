package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// EVMProvider reads balances over JSON-RPC (eth_getBalance).
type EVMProvider struct {
	rpcURL string
	client *http.Client
}

func NewEVMProvider(rpcURL string) *EVMProvider {
	return &EVMProvider{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *EVMProvider) Balance(ctx context.Context, address string) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_getBalance",
		Params:  []any{address, "latest"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}
	if rr.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rr.Error.Message)
	}

	wei, ok := new(big.Int).SetString(strings.TrimPrefix(rr.Result, "0x"), 16)
	if !ok {
		return "", fmt.Errorf("parse balance %q", rr.Result)
	}
	return wei.String(), nil
}

package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NEARProvider reads account balances from a NEAR RPC node.
type NEARProvider struct {
	rpcURL string
	client *http.Client
}

func NewNEARProvider(rpcURL string) *NEARProvider {
	return &NEARProvider{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type nearRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		RequestType string `json:"request_type"`
		Finality    string `json:"finality"`
		AccountID   string `json:"account_id"`
	} `json:"params"`
}

type nearResponse struct {
	Result *struct {
		Amount string `json:"amount"`
	} `json:"result"`
	Error *struct {
		Data string `json:"data"`
	} `json:"error"`
}

func (p *NEARProvider) Balance(ctx context.Context, address string) (string, error) {
	req := nearRequest{JSONRPC: "2.0", ID: "chainbill", Method: "query"}
	req.Params.RequestType = "view_account"
	req.Params.Finality = "final"
	req.Params.AccountID = address

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var nr nearResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}
	if nr.Error != nil {
		return "", fmt.Errorf("rpc error: %s", nr.Error.Data)
	}
	if nr.Result == nil {
		return "", fmt.Errorf("rpc response missing result")
	}
	return nr.Result.Amount, nil
}

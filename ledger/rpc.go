package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hoshinoume/terravale/server/errs"
)

// RPCClient talks JSON-RPC to a real ledger node. It implements Client; the
// engine never sees anything below this surface.
type RPCClient struct {
	addr   string
	http   *http.Client
	nextID int64
}

// NewRPCClient creates an RPCClient for the given node address.
func NewRPCClient(addr string) *RPCClient {
	return &RPCClient{
		addr: addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Externalf(errs.CodeLedger, err, "ledger rpc %s", method)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Externalf(errs.CodeLedger, nil, "ledger rpc %s: http %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errs.Externalf(errs.CodeLedger, err, "ledger rpc %s: bad response", method)
	}
	if envelope.Error != nil {
		return errs.Externalf(errs.CodeLedger, nil, "ledger rpc %s: %s", method, envelope.Error.Message).
			With("rpc_code", envelope.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return errs.Externalf(errs.CodeLedger, err, "ledger rpc %s: bad result", method)
		}
	}
	return nil
}

// Submit submits one signed contract call and returns the execution result.
func (c *RPCClient) Submit(ctx context.Context, call Call) (*SubmitResult, error) {
	if err := CheckSigner(call.Signer); err != nil {
		return nil, err
	}
	target := fmt.Sprintf("%s::%s::%s", call.Package, call.Module, call.Function)
	var result SubmitResult
	err := c.call(ctx, "ledger_submitCall", []interface{}{
		target, call.Args, call.Signer.Address(),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForFinality polls until the node reports txID final.
func (c *RPCClient) WaitForFinality(ctx context.Context, txID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var final bool
		if err := c.call(ctx, "ledger_isFinal", []interface{}{txID}, &final); err != nil {
			return err
		}
		if final {
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.Externalf(errs.CodeLedger, ctx.Err(), "finality wait for %s", txID)
		case <-ticker.C:
		}
	}
}

// QueryOwnedAssets lists objects owned by owner, optionally filtered by type.
func (c *RPCClient) QueryOwnedAssets(ctx context.Context, owner, typeFilter string) ([]OwnedObject, error) {
	var out []OwnedObject
	err := c.call(ctx, "ledger_ownedObjects", []interface{}{owner, typeFilter}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

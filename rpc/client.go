package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lendchain/crypto"
)

// Client issues JSON-RPC calls, signing them when a key is configured.
type Client struct {
	endpoint string
	http     *http.Client
	key      *crypto.PrivateKey
	nowFn    func() time.Time
	nextID   atomic.Int64
}

// NewClient returns a client for endpoint. A nil key sends unsigned requests.
func NewClient(endpoint string, key *crypto.PrivateKey, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http:     httpClient,
		key:      key,
		nowFn:    time.Now,
	}
}

// Call invokes method with positional params and decodes the result into out
// when out is non-nil. JSON-RPC errors are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	raw, err := c.CallRaw(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// CallRaw invokes method and returns the undecoded result.
func (c *Client) CallRaw(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	encoded := make([]json.RawMessage, len(params))
	for i, param := range params {
		b, err := json.Marshal(param)
		if err != nil {
			return nil, fmt.Errorf("encode param %d: %w", i, err)
		}
		encoded[i] = b
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  encoded,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != nil {
		if err := SignRequest(req, c.key, method, body, c.nowFn(), uuid.NewString()); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return envelope.Result, nil
}

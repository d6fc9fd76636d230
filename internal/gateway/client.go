package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
)

// jsonRPCRequest represents a JSON-RPC request.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// jsonRPCResponse represents a JSON-RPC response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is an application-level JSON-RPC error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	if httpErr, ok := err.(*HTTPStatusError); ok {
		return httpErr.IsRetryable()
	}
	return false
}

func isRPCError(err error) bool {
	_, ok := err.(*RPCError)
	return ok
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	if httpErr, ok := err.(*HTTPStatusError); ok && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// ClientConfig holds configuration for the JSON-RPC gateway client.
type ClientConfig struct {
	URL            string
	WSURL          string // optional, enables newHeads push
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	GasLimit       uint64
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
// 2s timeout tolerates slow responses under load while still detecting
// failures quickly enough for the monitor's poll cadence.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		GasLimit:       150_000,
	}
}

// HTTPClient implements Gateway over HTTP JSON-RPC.
type HTTPClient struct {
	url        string
	wsURL      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	gasLimit   uint64
	logger     *slog.Logger

	// Gas price cache, refreshed lazily.
	gasPriceMu       sync.Mutex
	gasPriceWei      uint64
	gasPriceTime     time.Time
	gasPriceFetching bool
}

var _ Gateway = (*HTTPClient)(nil)

// gasPriceTTL bounds how stale the cached eth_gasPrice may be.
const gasPriceTTL = 10 * time.Second

// NewHTTPClient creates a new HTTP-based gateway client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 256,
		MaxConnsPerHost:     256,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 150_000
	}

	return &HTTPClient{
		url:   cfg.URL,
		wsURL: cfg.WSURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		gasLimit:   gasLimit,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Application-level errors are not retried here.
		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// encodeCallData builds the call data: 4-byte selector of the function
// signature followed by the pre-encoded argument words.
func encodeCallData(function string, args []string) (string, error) {
	sig := function
	if !strings.Contains(sig, "(") {
		sig += "()"
	}
	selector := crypto.Keccak256([]byte(sig))[:4]

	var data strings.Builder
	data.WriteString(hexutil.Encode(selector))
	for i, arg := range args {
		word := strings.TrimPrefix(arg, "0x")
		if len(word) > 64 {
			return "", fmt.Errorf("argument %d exceeds 32 bytes", i)
		}
		data.WriteString(strings.Repeat("0", 64-len(word)))
		data.WriteString(word)
	}
	return data.String(), nil
}

// gasPrice returns the node's suggested gas price, cached for gasPriceTTL.
// The lock only guards the cache, never the network round trip: on expiry
// one caller claims the refresh and the rest keep using the stale price,
// so parallel submissions are never serialized behind eth_gasPrice.
func (c *HTTPClient) gasPrice(ctx context.Context) (uint64, error) {
	c.gasPriceMu.Lock()
	cached := c.gasPriceWei
	fresh := cached > 0 && time.Since(c.gasPriceTime) < gasPriceTTL
	claimed := false
	if !fresh && !c.gasPriceFetching {
		c.gasPriceFetching = true
		claimed = true
	}
	c.gasPriceMu.Unlock()

	if fresh {
		return cached, nil
	}
	if !claimed {
		if cached > 0 {
			return cached, nil // stale beats waiting for the refresh
		}
		// Cold cache and a refresh already in flight elsewhere; fetch
		// independently rather than fail the submission.
		return c.fetchGasPrice(ctx)
	}

	price, err := c.fetchGasPrice(ctx)

	c.gasPriceMu.Lock()
	c.gasPriceFetching = false
	if err == nil {
		c.gasPriceWei = price
		c.gasPriceTime = time.Now()
	}
	c.gasPriceMu.Unlock()

	if err != nil {
		if cached > 0 {
			return cached, nil // stale beats failing the submission
		}
		return 0, err
	}
	return price, nil
}

// fetchGasPrice performs the eth_gasPrice round trip.
func (c *HTTPClient) fetchGasPrice(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return 0, err
	}

	var priceHex string
	if err := json.Unmarshal(result, &priceHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal gas price: %w", err)
	}

	price, err := hexutil.DecodeUint64(priceHex)
	if err != nil {
		return 0, fmt.Errorf("failed to decode gas price: %w", err)
	}
	return price, nil
}

// SubmitCall submits a contract call through eth_sendTransaction.
// Signing happens node-side for the given account.
func (c *HTTPClient) SubmitCall(ctx context.Context, req CallRequest) (common.Hash, error) {
	data, err := encodeCallData(req.Function, req.Args)
	if err != nil {
		return common.Hash{}, &SubmissionError{Account: req.Account, Err: err}
	}

	price, err := c.gasPrice(ctx)
	if err != nil {
		return common.Hash{}, &SubmissionError{Account: req.Account, Err: err}
	}
	price = uint64(float64(price) * TierMultiplier(req.GasTier))

	callObj := map[string]string{
		"from":     req.Account,
		"to":       req.Contract,
		"gas":      hexutil.EncodeUint64(c.gasLimit),
		"gasPrice": hexutil.EncodeUint64(price),
		"data":     data,
	}

	result, err := c.Call(ctx, "eth_sendTransaction", []interface{}{callObj})
	if err != nil {
		return common.Hash{}, &SubmissionError{Account: req.Account, Err: err}
	}

	var hashHex string
	if err := json.Unmarshal(result, &hashHex); err != nil {
		return common.Hash{}, &SubmissionError{Account: req.Account, Err: fmt.Errorf("failed to unmarshal hash: %w", err)}
	}

	return common.HexToHash(hashHex), nil
}

// blockNumber returns the latest block number.
func (c *HTTPClient) blockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal block number: %w", err)
	}

	return hexutil.DecodeUint64(blockHex)
}

type rawReceipt struct {
	Status      string `json:"status"`
	GasUsed     string `json:"gasUsed"`
	BlockNumber string `json:"blockNumber"`
}

func (r *rawReceipt) toReceipt(head uint64) *Receipt {
	status, _ := hexutil.DecodeUint64(r.Status)
	gasUsed, _ := hexutil.DecodeUint64(r.GasUsed)
	blockNum, _ := hexutil.DecodeUint64(r.BlockNumber)

	receipt := &Receipt{
		GasUsed:     gasUsed,
		BlockNumber: blockNum,
	}
	if blockNum == 0 {
		receipt.Status = ReceiptUnknown
		return receipt
	}
	if status == 1 {
		receipt.Status = ReceiptSuccess
	} else {
		receipt.Status = ReceiptReverted
	}
	if head >= blockNum {
		receipt.Confirmations = head - blockNum + 1
	}
	return receipt
}

// GetReceipt returns the receipt for a transaction, with confirmation
// count derived from the current head. Nil receipt means not yet mined.
func (c *HTTPClient) GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash.Hex()})
	if err != nil {
		return nil, &QueryError{Method: "eth_getTransactionReceipt", Err: err}
	}

	if string(result) == "null" {
		return nil, nil
	}

	var raw rawReceipt
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, &QueryError{Method: "eth_getTransactionReceipt", Err: err}
	}

	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, &QueryError{Method: "eth_blockNumber", Err: err}
	}

	return raw.toReceipt(head), nil
}

// GetReceipts fetches multiple receipts plus the head in one batch request.
func (c *HTTPClient) GetReceipts(ctx context.Context, txHashes []common.Hash) ([]*Receipt, error) {
	if len(txHashes) == 0 {
		return nil, nil
	}

	reqs := make([]jsonRPCRequest, 0, len(txHashes)+1)
	for i, hash := range txHashes {
		reqs = append(reqs, jsonRPCRequest{
			JSONRPC: "2.0",
			Method:  "eth_getTransactionReceipt",
			Params:  []interface{}{hash.Hex()},
			ID:      i + 1,
		})
	}
	reqs = append(reqs, jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_blockNumber",
		Params:  nil,
		ID:      len(txHashes) + 1,
	})

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, &QueryError{Method: "batch", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &QueryError{Method: "batch", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &QueryError{Method: "batch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &QueryError{Method: "batch", Err: &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(errBody)}}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Method: "batch", Err: err}
	}

	var rpcResps []jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		return nil, &QueryError{Method: "batch", Err: err}
	}

	respMap := make(map[int]*jsonRPCResponse, len(rpcResps))
	for i := range rpcResps {
		respMap[rpcResps[i].ID] = &rpcResps[i]
	}

	var head uint64
	if headResp, ok := respMap[len(txHashes)+1]; ok && headResp.Error == nil {
		var headHex string
		if err := json.Unmarshal(headResp.Result, &headHex); err == nil {
			head, _ = hexutil.DecodeUint64(headHex)
		}
	}

	receipts := make([]*Receipt, len(txHashes))
	for i := range txHashes {
		rpcResp, ok := respMap[i+1]
		if !ok || rpcResp.Error != nil {
			if rpcResp != nil && rpcResp.Error != nil {
				c.logger.Debug("batch receipt fetch error",
					slog.String("txHash", txHashes[i].Hex()),
					slog.String("error", rpcResp.Error.Message),
				)
			}
			continue
		}
		if string(rpcResp.Result) == "null" {
			continue
		}
		var raw rawReceipt
		if err := json.Unmarshal(rpcResp.Result, &raw); err != nil {
			c.logger.Debug("failed to parse receipt",
				slog.String("txHash", txHashes[i].Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		receipts[i] = raw.toReceipt(head)
	}

	return receipts, nil
}

// SubscribeNewBlocks opens a newHeads WebSocket subscription when a WS URL
// is configured. Missed notifications are tolerable: the monitor keeps
// polling regardless, push only shortens latency.
func (c *HTTPClient) SubscribeNewBlocks(ctx context.Context, onBlock func(number uint64)) (func(), error) {
	if c.wsURL == "" {
		return nil, ErrPushUnsupported
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ws: %w", err)
	}

	sub := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
		ID:      1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer conn.Close()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			var msg struct {
				Params struct {
					Result struct {
						Number string `json:"number"`
					} `json:"result"`
				} `json:"params"`
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if err := conn.ReadJSON(&msg); err != nil {
				c.logger.Debug("newHeads subscription read failed, push disabled",
					slog.String("error", err.Error()),
				)
				return
			}
			if msg.Params.Result.Number == "" {
				continue
			}
			if num, err := hexutil.DecodeUint64(msg.Params.Result.Number); err == nil {
				onBlock(num)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}
	return cancel, nil
}

package scanner

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"scanasha/internal/logging"
)

// ImplementationSlot is the EIP-1967 implementation storage slot.
const ImplementationSlot = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"

// ProxyBaseContracts are inherited contract names that mark a proxy.
var ProxyBaseContracts = []string{"Proxy", "ERC1967Proxy", "ERC1967", "UUPS", "UpgradeableProxy"}

// RPCClient is a minimal Ethereum JSON-RPC client.
type RPCClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
	retries    int
	backoff    backoff.Backoff
}

// NewRPCClient creates a client for url.
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    2,
		backoff:    backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Factor: 2},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call invokes method and decodes the result into out. Transport failures
// and 5xx responses are retried.
func (c *RPCClient) Call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	b := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}
		retry, err := c.do(ctx, payload, out)
		if err == nil {
			return nil
		}
		if !retry {
			return fmt.Errorf("%s: %w", method, err)
		}
		lastErr = err
		logging.ScannerDebug("rpc %s attempt %d failed: %v", method, attempt+1, err)
	}
	return fmt.Errorf("%s: %w", method, lastErr)
}

func (c *RPCClient) do(ctx context.Context, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return true, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return false, parsed.Error
	}
	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	return false, nil
}

// StorageAt returns the 32-byte word stored at slot. block defaults to "latest".
func (c *RPCClient) StorageAt(ctx context.Context, address, slot, block string) ([]byte, error) {
	if block == "" {
		block = "latest"
	}
	var hexWord string
	if err := c.Call(ctx, "eth_getStorageAt", &hexWord, address, slot, block); err != nil {
		return nil, err
	}
	return decodeHex(hexWord)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex word: %w", err)
	}
	return b, nil
}

// StorageReader is satisfied by *RPCClient.
type StorageReader interface {
	StorageAt(ctx context.Context, address, slot, block string) ([]byte, error)
}

// ImplementationAddress reads the EIP-1967 slot of proxy. It returns "" when
// the slot is empty, meaning the contract is not an EIP-1967 proxy.
func ImplementationAddress(ctx context.Context, rpc StorageReader, proxy string) (string, error) {
	word, err := rpc.StorageAt(ctx, proxy, ImplementationSlot, "latest")
	if err != nil {
		return "", fmt.Errorf("read implementation slot: %w", err)
	}
	if len(word) < 20 {
		padded := make([]byte, 20)
		copy(padded[20-len(word):], word)
		word = padded
	}
	addr := word[len(word)-20:]
	if bytes.Equal(addr, make([]byte, 20)) {
		return "", nil
	}
	return "0x" + hex.EncodeToString(addr), nil
}

package movechain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client talks to the REST API of a Move ledger node.
type Client interface {
	LedgerInfo(ctx context.Context) (LedgerInfo, error)
	Account(ctx context.Context, address string) (AccountInfo, error)
	Resource(ctx context.Context, address, resourceType string, out interface{}) error
	View(ctx context.Context, payload ViewPayload) ([]json.RawMessage, error)
	EncodeSubmission(ctx context.Context, txn RawTransaction) ([]byte, error)
	Submit(ctx context.Context, txn SignedTransaction) (string, error)
	TransactionByHash(ctx context.Context, hash string) (Transaction, error)
	TransactionByVersion(ctx context.Context, version uint64) (Transaction, error)
	Events(ctx context.Context, address, handle, field string, start uint64, limit int) ([]Event, error)
}

type LedgerInfo struct {
	ChainID         uint8  `json:"chain_id"`
	LedgerVersion   string `json:"ledger_version"`
	BlockHeight     string `json:"block_height"`
	LedgerTimestamp string `json:"ledger_timestamp"`
}

// Time returns the ledger timestamp, reported in microseconds.
func (info LedgerInfo) Time() time.Time {
	micros, _ := strconv.ParseInt(info.LedgerTimestamp, 10, 64)
	return time.UnixMicro(micros)
}

type AccountInfo struct {
	SequenceNumber string `json:"sequence_number"`
}

type EntryFunctionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

type ViewPayload struct {
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

type RawTransaction struct {
	Sender                  string               `json:"sender"`
	SequenceNumber          string               `json:"sequence_number"`
	MaxGasAmount            string               `json:"max_gas_amount"`
	GasUnitPrice            string               `json:"gas_unit_price"`
	ExpirationTimestampSecs string               `json:"expiration_timestamp_secs"`
	Payload                 EntryFunctionPayload `json:"payload"`
}

type Signature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type SignedTransaction struct {
	RawTransaction
	Signature Signature `json:"signature"`
}

type Transaction struct {
	Type      string `json:"type"`
	Hash      string `json:"hash"`
	Version   string `json:"version"`
	Success   bool   `json:"success"`
	VMStatus  string `json:"vm_status"`
	Timestamp string `json:"timestamp"`
}

// Pending reports whether the transaction is not yet committed.
func (tx Transaction) Pending() bool {
	return tx.Type == "" || tx.Type == "pending_transaction"
}

type Event struct {
	SequenceNumber string          `json:"sequence_number"`
	Type           string          `json:"type"`
	Version        string          `json:"version"`
	Data           json.RawMessage `json:"data"`
}

// apiError is the error body returned by the node.
type apiError struct {
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode int    `json:"vm_error_code"`
}

type restClient struct {
	url  string
	http *http.Client
}

func NewClient(nodeURL string) Client {
	return &restClient{
		url:  strings.TrimRight(nodeURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *restClient) LedgerInfo(ctx context.Context) (LedgerInfo, error) {
	var info LedgerInfo
	err := c.do(ctx, http.MethodGet, "/", nil, &info)
	return info, err
}

func (c *restClient) Account(ctx context.Context, address string) (AccountInfo, error) {
	var info AccountInfo
	err := c.do(ctx, http.MethodGet, "/accounts/"+address, nil, &info)
	return info, err
}

func (c *restClient) Resource(ctx context.Context, address, resourceType string, out interface{}) error {
	var resource struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+address+"/resource/"+url.PathEscape(resourceType), nil, &resource); err != nil {
		return err
	}
	return json.Unmarshal(resource.Data, out)
}

func (c *restClient) View(ctx context.Context, payload ViewPayload) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.do(ctx, http.MethodPost, "/view", payload, &out)
	return out, err
}

func (c *restClient) EncodeSubmission(ctx context.Context, txn RawTransaction) ([]byte, error) {
	var encoded string
	if err := c.do(ctx, http.MethodPost, "/transactions/encode_submission", txn, &encoded); err != nil {
		return nil, err
	}
	return hexutil.Decode(encoded)
}

func (c *restClient) Submit(ctx context.Context, txn SignedTransaction) (string, error) {
	var pending Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions", txn, &pending); err != nil {
		return "", err
	}
	return pending.Hash, nil
}

func (c *restClient) TransactionByHash(ctx context.Context, hash string) (Transaction, error) {
	var tx Transaction
	err := c.do(ctx, http.MethodGet, "/transactions/by_hash/"+hash, nil, &tx)
	return tx, err
}

func (c *restClient) TransactionByVersion(ctx context.Context, version uint64) (Transaction, error) {
	var tx Transaction
	err := c.do(ctx, http.MethodGet, "/transactions/by_version/"+strconv.FormatUint(version, 10), nil, &tx)
	return tx, err
}

func (c *restClient) Events(ctx context.Context, address, handle, field string, start uint64, limit int) ([]Event, error) {
	path := fmt.Sprintf("/accounts/%s/events/%s/%s?start=%d&limit=%d", address, url.PathEscape(handle), field, start, limit)
	var events []Event
	err := c.do(ctx, http.MethodGet, path, nil, &events)
	return events, err
}

// do sends a JSON request and decodes a JSON response. Transport failures and
// 5xx responses are transient, 404 is ErrNotFound and any other error body is
// classified by its message.
func (c *restClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return chain.RPC(path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return chain.RPC(path, err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		cause := fmt.Errorf("%s (%d %s)", msg, resp.StatusCode, apiErr.ErrorCode)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", chain.ErrNotFound, path, cause)
		case resp.StatusCode >= 500:
			return chain.RPC(path, cause)
		default:
			return chain.Classify(path, cause)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return chain.RPC(path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

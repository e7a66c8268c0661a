package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const TransactionTypeNFTokenMint = "NFTokenMint"

var (
	ErrUnexpectedStatus = errors.New("unexpected status from xrpl rpc")
	ErrRPC              = errors.New("xrpl rpc error")
)

// Transaction carries the subset of transaction fields the watcher reads.
// Date is seconds since the ripple epoch (2000-01-01T00:00:00Z).
type Transaction struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Hash            string `json:"hash"`
	Date            int64  `json:"date"`
	NFTokenID       string `json:"NFTokenID"`
	URI             string `json:"URI"`
}

// Entry is one element of account_tx's transactions list. Depending on the
// API version the transaction is under "tx" or "tx_json", and the hash is
// either inside the transaction or next to it.
type Entry struct {
	Tx     *Transaction    `json:"tx"`
	TxJSON *Transaction    `json:"tx_json"`
	Hash   string          `json:"hash"`
	Date   int64           `json:"date"`
	Meta   json.RawMessage `json:"meta"`
}

type entryMeta struct {
	NFTokenID string `json:"nftoken_id"`
}

// Transaction returns the envelope's transaction with hash and date filled in
// from the entry when the transaction itself lacks them.
func (e Entry) Transaction() (Transaction, bool) {
	var tx Transaction
	switch {
	case e.Tx != nil:
		tx = *e.Tx
	case e.TxJSON != nil:
		tx = *e.TxJSON
	default:
		return Transaction{}, false
	}
	if tx.Hash == "" {
		tx.Hash = e.Hash
	}
	if tx.Date == 0 {
		tx.Date = e.Date
	}
	if tx.NFTokenID == "" && len(e.Meta) > 0 {
		var meta entryMeta
		if err := json.Unmarshal(e.Meta, &meta); err == nil {
			tx.NFTokenID = meta.NFTokenID
		}
	}
	return tx, true
}

type request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type accountTxParams struct {
	Account        string `json:"account"`
	LedgerIndexMin int64  `json:"ledger_index_min"`
	LedgerIndexMax int64  `json:"ledger_index_max"`
	Limit          int    `json:"limit"`
	Forward        bool   `json:"forward"`
}

type accountTxResponse struct {
	Result struct {
		Status       string            `json:"status"`
		Error        string            `json:"error"`
		ErrorMessage string            `json:"error_message"`
		Transactions []json.RawMessage `json:"transactions"`
	} `json:"result"`
}

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// AccountTx returns the most recent transactions of account, newest first,
// across all validated ledgers.
func (c *Client) AccountTx(ctx context.Context, account string, limit int) ([]Entry, error) {
	body, err := json.Marshal(request{
		Method: "account_tx",
		Params: []any{accountTxParams{
			Account:        account,
			LedgerIndexMin: -1,
			LedgerIndexMax: -1,
			Limit:          limit,
			Forward:        false,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode account_tx request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build account_tx request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call account_tx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded accountTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode account_tx response: %w", err)
	}
	if decoded.Result.Status == "error" || decoded.Result.Error != "" {
		return nil, fmt.Errorf("%w: %s %s", ErrRPC, decoded.Result.Error, decoded.Result.ErrorMessage)
	}

	entries := make([]Entry, 0, len(decoded.Result.Transactions))
	for i, raw := range decoded.Result.Transactions {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			zap.L().Debug("Skipping undecodable account_tx entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

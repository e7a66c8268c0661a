package bithomp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const salesPath = "/api/v2/nft-sales"

var ErrUnexpectedStatus = errors.New("unexpected status from bithomp")

// Sale is one record of the nft-sales list as returned by the API.
type Sale struct {
	AcceptedTxHash string          `json:"acceptedTxHash"`
	AcceptedAt     json.Number     `json:"acceptedAt"`
	Buyer          string          `json:"buyer"`
	Seller         string          `json:"seller"`
	Amount         json.RawMessage `json:"amount"`
	NFToken        NFToken         `json:"nftoken"`
}

type NFToken struct {
	NFTokenID string `json:"nftokenID"`
	URI       string `json:"uri"`
}

type salesResponse struct {
	Sales []json.RawMessage `json:"sales"`
}

type Client struct {
	baseURL string
	token   string
	issuer  string
	http    *http.Client
}

func NewClient(baseURL, token, issuer string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		issuer:  issuer,
		http:    httpClient,
	}
}

// LastSold fetches the most recent sales of the issuer's collection, newest
// first. Records that cannot be decoded are dropped.
func (c *Client) LastSold(ctx context.Context) ([]Sale, error) {
	params := url.Values{}
	params.Set("list", "lastSold")
	params.Set("issuer", c.issuer)
	params.Set("saleType", "all")
	params.Set("period", "all")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+salesPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sales request: %w", err)
	}
	req.Header.Set("x-bithomp-token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sales: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded salesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode sales response: %w", err)
	}

	sales := make([]Sale, 0, len(decoded.Sales))
	for i, raw := range decoded.Sales {
		var s Sale
		if err := json.Unmarshal(raw, &s); err != nil {
			zap.L().Debug("Skipping undecodable sale record", zap.Int("index", i), zap.Error(err))
			continue
		}
		sales = append(sales, s)
	}
	return sales, nil
}

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gethmath "github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/time/rate"

	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/retry"
	"github.com/activity-scorer/internal/types"
)

// Cursor fields the address history endpoints hand back. They travel together.
var historyCursorFields = []string{"block_number", "index", "items_count"}

// ExplorerConfig configures the block-explorer client
type ExplorerConfig struct {
	BaseURL           string
	MaxPages          int
	PageDelay         time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Retry             *retry.RetryConfig
	HTTPClient        *http.Client
	Logger            *logging.Logger
}

// ExplorerClient fetches address history from a Blockscout v2 style API
type ExplorerClient struct {
	baseURL        string
	client         *http.Client
	limiter        *rate.Limiter
	maxPages       int
	pageDelay      time.Duration
	requestTimeout time.Duration
	retryConfig    retry.RetryConfig
	logger         *logging.Logger
}

// StatusError is a non-2xx explorer response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("explorer HTTP %d: %s", e.StatusCode, e.Body)
}

// Is lets callers match 429 and 404/422 with errors.Is
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}

// NewExplorerClient creates a new explorer client
func NewExplorerClient(cfg ExplorerConfig) *ExplorerClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		retryCfg = cfg.Retry
	}
	rc := *retryCfg
	rc.Classify = ClassifyError

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ExplorerClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         httpClient,
		limiter:        rate.NewLimiter(limit, burst),
		maxPages:       maxPages,
		pageDelay:      cfg.PageDelay,
		requestTimeout: timeout,
		retryConfig:    rc,
		logger:         logger.WithField("component", "explorer"),
	}
}

// ClassifyError maps an explorer failure onto a retry class
func ClassifyError(err error) retry.Class {
	switch {
	case errors.Is(err, ErrRateLimited):
		return retry.ClassRateLimited
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidAddress):
		return retry.ClassPermanent
	case errors.Is(err, context.Canceled):
		return retry.ClassPermanent
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusRequestTimeout {
		return retry.ClassPermanent
	}
	return retry.ClassTransient
}

// Wire schema

type pageEnvelope struct {
	Items          json.RawMessage            `json:"items"`
	NextPageParams map[string]json.RawMessage `json:"next_page_params"`
}

type addressRef struct {
	Hash string `json:"hash"`
}

type feeField struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type explorerTransaction struct {
	Hash            string      `json:"hash"`
	BlockNumber     json.Number `json:"block_number"`
	Block           json.Number `json:"block"`
	Timestamp       string      `json:"timestamp"`
	From            *addressRef `json:"from"`
	To              *addressRef `json:"to"`
	CreatedContract *addressRef `json:"created_contract"`
	Value           string      `json:"value"`
	Fee             *feeField   `json:"fee"`
	GasUsed         string      `json:"gas_used"`
	GasPrice        string      `json:"gas_price"`
	Status          string      `json:"status"`
	Method          string      `json:"method"`
}

type explorerToken struct {
	Address     string `json:"address"`
	AddressHash string `json:"address_hash"`
	Decimals    string `json:"decimals"`
	Type        string `json:"type"`
}

func (t explorerToken) contract() string {
	if t.AddressHash != "" {
		return t.AddressHash
	}
	return t.Address
}

type explorerTotal struct {
	Decimals string `json:"decimals"`
	Value    string `json:"value"`
}

type explorerTokenTransfer struct {
	From      *addressRef    `json:"from"`
	To        *addressRef    `json:"to"`
	Timestamp string         `json:"timestamp"`
	Token     explorerToken  `json:"token"`
	Total     *explorerTotal `json:"total"`
}

type explorerNFTInstance struct {
	ID    string        `json:"id"`
	Token explorerToken `json:"token"`
}

// FetchAllTransactions fetches the newest-first transaction history for an address
func (c *ExplorerClient) FetchAllTransactions(ctx context.Context, address string, maxPages int) ([]*types.Transaction, error) {
	path := fmt.Sprintf("/api/v2/addresses/%s/transactions", url.PathEscape(address))

	var txs []*types.Transaction
	_, err := c.paginate(ctx, path, nil, historyCursorFields, maxPages, func(items json.RawMessage) error {
		var page []explorerTransaction
		if err := json.Unmarshal(items, &page); err != nil {
			return fmt.Errorf("failed to parse transactions: %w", err)
		}
		for _, raw := range page {
			if tx, ok := c.convertTransaction(raw); ok {
				txs = append(txs, tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"address":      address,
		"transactions": len(txs),
	}).Debug("Fetched transactions")
	return txs, nil
}

// FetchTokenTransfers fetches transfers of one token contract touching an address
func (c *ExplorerClient) FetchTokenTransfers(ctx context.Context, address, tokenContract string, maxPages int) ([]*types.TokenTransfer, error) {
	path := fmt.Sprintf("/api/v2/addresses/%s/token-transfers", url.PathEscape(address))
	query := url.Values{}
	if tokenContract != "" {
		query.Set("token", tokenContract)
	}

	var transfers []*types.TokenTransfer
	_, err := c.paginate(ctx, path, query, historyCursorFields, maxPages, func(items json.RawMessage) error {
		var page []explorerTokenTransfer
		if err := json.Unmarshal(items, &page); err != nil {
			return fmt.Errorf("failed to parse token transfers: %w", err)
		}
		for _, raw := range page {
			if tt, ok := c.convertTokenTransfer(raw); ok {
				transfers = append(transfers, tt)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// FetchNFTHoldings lists ERC-721 and ERC-1155 instances held by an address
func (c *ExplorerClient) FetchNFTHoldings(ctx context.Context, address string) ([]types.NFTHolding, error) {
	path := fmt.Sprintf("/api/v2/addresses/%s/nft", url.PathEscape(address))
	query := url.Values{"type": []string{"ERC-721,ERC-1155"}}

	var holdings []types.NFTHolding
	_, err := c.paginate(ctx, path, query, nil, 0, func(items json.RawMessage) error {
		var page []explorerNFTInstance
		if err := json.Unmarshal(items, &page); err != nil {
			return fmt.Errorf("failed to parse nft instances: %w", err)
		}
		for _, raw := range page {
			contract := strings.ToLower(raw.Token.contract())
			if contract == "" {
				continue
			}
			holdings = append(holdings, types.NFTHolding{Collection: contract, TokenID: raw.ID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return holdings, nil
}

// paginate walks pages until the cursor runs out or maxPages is reached.
// It returns an error only when the first page fails; later failures
// truncate the walk and are logged.
func (c *ExplorerClient) paginate(
	ctx context.Context,
	path string,
	query url.Values,
	cursorFields []string,
	maxPages int,
	handle func(items json.RawMessage) error,
) (int, error) {
	if maxPages <= 0 {
		maxPages = c.maxPages
	}

	var cursor url.Values
	pages := 0
	for pages < maxPages {
		if pages > 0 && c.pageDelay > 0 {
			if err := sleepContext(ctx, c.pageDelay); err != nil {
				c.logger.WithField("path", path).WithError(err).Warn("Pagination cancelled, returning partial history")
				return pages, nil
			}
		}

		requestURL := c.buildURL(path, query, cursor)
		var page pageEnvelope
		result := retry.WithExponentialBackoff(ctx, &c.retryConfig, func(ctx context.Context, attempt int) error {
			body, err := c.doRequest(ctx, requestURL)
			if err != nil {
				return err
			}
			page = pageEnvelope{}
			if err := json.Unmarshal(body, &page); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if items := strings.TrimSpace(string(page.Items)); items == "" || items == "null" {
				return nil
			}
			return handle(page.Items)
		})

		if !result.Success {
			if pages == 0 {
				return 0, result.Err()
			}
			c.logger.WithFields(map[string]interface{}{
				"path":     path,
				"page":     pages + 1,
				"attempts": result.Attempts,
			}).WithError(result.LastError).Warn("Page failed, returning partial history")
			return pages, nil
		}

		pages++
		next, ok := nextCursor(page.NextPageParams, cursorFields)
		if !ok {
			return pages, nil
		}
		cursor = next
	}

	c.logger.WithFields(map[string]interface{}{
		"path":     path,
		"maxPages": maxPages,
	}).Debug("Reached page limit")
	return pages, nil
}

// nextCursor echoes the next-page parameters back as query values. With
// required fields, all of them must be present and non-null or pagination
// stops. Without, every returned key is echoed and any null stops it.
func nextCursor(params map[string]json.RawMessage, required []string) (url.Values, bool) {
	if len(params) == 0 {
		return nil, false
	}

	keys := required
	if len(keys) == 0 {
		keys = make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
	}

	values := url.Values{}
	for _, k := range keys {
		raw, ok := params[k]
		if !ok {
			return nil, false
		}
		v, ok := cursorValue(raw)
		if !ok {
			return nil, false
		}
		values.Set(k, v)
	}
	return values, true
}

func cursorValue(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil || str == "" {
			return "", false
		}
		return str, true
	}
	return s, true
}

func (c *ExplorerClient) buildURL(path string, query, cursor url.Values) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	for k, v := range cursor {
		q[k] = v
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// doRequest performs one attempt under the courtesy limiter and the request timeout
func (c *ExplorerClient) doRequest(ctx context.Context, requestURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("request timed out after %v: %w", c.requestTimeout, err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}

// convertTransaction maps an explorer item onto the domain model. Items
// without a parseable timestamp are dropped; bad numerics become zero.
func (c *ExplorerClient) convertTransaction(raw explorerTransaction) (*types.Transaction, bool) {
	ts, ok := parseTimestamp(raw.Timestamp)
	if !ok {
		c.logger.WithFields(map[string]interface{}{
			"hash":      raw.Hash,
			"timestamp": raw.Timestamp,
		}).Warn("Dropping transaction with unparseable timestamp")
		return nil, false
	}

	blockNumber := raw.BlockNumber
	if blockNumber == "" {
		blockNumber = raw.Block
	}
	block, _ := strconv.ParseUint(blockNumber.String(), 10, 64)

	tx := &types.Transaction{
		Hash:        strings.ToLower(raw.Hash),
		BlockNumber: block,
		Timestamp:   ts,
		Value:       parseBig(raw.Value),
		GasUsed:     parseBig(raw.GasUsed),
		GasPrice:    parseBig(raw.GasPrice),
		Status:      types.StatusSuccess,
		Method:      raw.Method,
	}
	if raw.From != nil {
		tx.From = strings.ToLower(raw.From.Hash)
	}
	if raw.To != nil && raw.To.Hash != "" {
		to := strings.ToLower(raw.To.Hash)
		tx.To = &to
	}
	if raw.Fee != nil {
		tx.Fee = parseBig(raw.Fee.Value)
	} else {
		tx.Fee = new(big.Int).Mul(tx.GasUsed, tx.GasPrice)
	}
	if raw.Status == "error" {
		tx.Status = types.StatusFailed
	}

	return tx, true
}

func (c *ExplorerClient) convertTokenTransfer(raw explorerTokenTransfer) (*types.TokenTransfer, bool) {
	ts, ok := parseTimestamp(raw.Timestamp)
	if !ok {
		c.logger.WithField("timestamp", raw.Timestamp).Warn("Dropping token transfer with unparseable timestamp")
		return nil, false
	}

	tt := &types.TokenTransfer{
		Timestamp:     ts,
		TokenContract: strings.ToLower(raw.Token.contract()),
		Amount:        big.NewInt(0),
	}
	if raw.From != nil {
		tt.From = strings.ToLower(raw.From.Hash)
	}
	if raw.To != nil {
		tt.To = strings.ToLower(raw.To.Hash)
	}

	decimals := raw.Token.Decimals
	if raw.Total != nil {
		tt.Amount = parseBig(raw.Total.Value)
		if raw.Total.Decimals != "" {
			decimals = raw.Total.Decimals
		}
	}
	if d, err := strconv.ParseInt(decimals, 10, 32); err == nil && d >= 0 {
		tt.Decimals = int32(d)
	}

	return tt, true
}

// parseTimestamp accepts RFC 3339 or unix seconds
func parseTimestamp(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix(), true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return secs, true
	}
	return 0, false
}

// parseBig accepts decimal or 0x-prefixed hex and defaults to zero
func parseBig(s string) *big.Int {
	if v, ok := gethmath.ParseBig256(strings.TrimSpace(s)); ok && v != nil && v.Sign() >= 0 {
		return v
	}
	return big.NewInt(0)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

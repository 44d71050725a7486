package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/retry"
	"github.com/activity-scorer/internal/types"
)

const testAddress = "0x1111111111111111111111111111111111111111"

func newTestExplorer(t *testing.T, handler http.HandlerFunc) *ExplorerClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewExplorerClient(ExplorerConfig{
		BaseURL:        server.URL,
		MaxPages:       10,
		RequestTimeout: 2 * time.Second,
		Retry: &retry.RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      time.Millisecond,
			RateLimitMaxDelay: 10 * time.Millisecond,
			Multiplier:        2,
		},
		Logger: logging.NewNopLogger(),
	})
}

func txItem(hash string, ts time.Time, to string) string {
	toField := "null"
	if to != "" {
		toField = fmt.Sprintf(`{"hash":%q}`, to)
	}
	return fmt.Sprintf(`{"hash":%q,"block_number":100,"timestamp":%q,"from":{"hash":%q},"to":%s,`+
		`"value":"0","fee":{"type":"actual","value":"21000000000000"},"gas_used":"21000","gas_price":"1000000000","status":"ok","method":"transfer"}`,
		hash, ts.UTC().Format(time.RFC3339), testAddress, toField)
}

func page(items []string, next string) string {
	if next == "" {
		next = "null"
	}
	return fmt.Sprintf(`{"items":[%s],"next_page_params":%s}`, strings.Join(items, ","), next)
}

func cursorJSON(block int) string {
	return fmt.Sprintf(`{"block_number":%d,"index":0,"items_count":50}`, block)
}

func TestFetchAllTransactions_FollowsCursor(t *testing.T) {
	now := time.Now()
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/addresses/"+testAddress+"/transactions", r.URL.Path)
		q := r.URL.Query()
		switch q.Get("block_number") {
		case "":
			fmt.Fprint(w, page([]string{txItem("0xa", now, "0xbeef"), txItem("0xb", now, "0xbeef")}, cursorJSON(90)))
		case "90":
			assert.Equal(t, "0", q.Get("index"))
			assert.Equal(t, "50", q.Get("items_count"))
			fmt.Fprint(w, page([]string{txItem("0xc", now, "")}, ""))
		default:
			t.Errorf("unexpected cursor %v", q)
		}
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "0xa", txs[0].Hash)
	assert.Equal(t, uint64(100), txs[0].BlockNumber)
	assert.Equal(t, now.Unix(), txs[0].Timestamp)
	assert.Equal(t, "21000000000000", txs[0].Fee.String())
	assert.Equal(t, types.StatusSuccess, txs[0].Status)
	assert.False(t, txs[0].IsDeployment())
	assert.True(t, txs[2].IsDeployment())
}

func TestFetchAllTransactions_PartialCursorStops(t *testing.T) {
	var calls int32
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, page([]string{txItem("0xa", time.Now(), "0xbeef")}, `{"block_number":90,"index":null,"items_count":50}`))
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchAllTransactions_StopsAtMaxPages(t *testing.T) {
	var calls int32
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, page([]string{txItem(fmt.Sprintf("0x%d", n), time.Now(), "0xbeef")}, cursorJSON(int(1000-n))))
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 3)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchAllTransactions_PartialPageTolerance(t *testing.T) {
	var page2Calls int32
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("block_number") {
		case "":
			fmt.Fprint(w, page([]string{txItem("0xa", time.Now(), "0xbeef"), txItem("0xb", time.Now(), "0xbeef")}, cursorJSON(90)))
		case "90":
			atomic.AddInt32(&page2Calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, page([]string{txItem("0xz", time.Now(), "0xbeef")}, cursorJSON(10)))
		}
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 4)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0xa", txs[0].Hash)
	assert.Equal(t, "0xb", txs[1].Hash)
	assert.Equal(t, int32(3), atomic.LoadInt32(&page2Calls), "page 2 should use all attempts")
}

func TestFetchAllTransactions_FirstPageFailure(t *testing.T) {
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	assert.Error(t, err)
	assert.Nil(t, txs)
}

func TestFetchAllTransactions_RetriesRateLimit(t *testing.T) {
	var calls int32
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, page([]string{txItem("0xa", time.Now(), "0xbeef")}, ""))
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchAllTransactions_NotFoundIsPermanent(t *testing.T) {
	var calls int32
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not found"}`)
	})

	_, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchAllTransactions_StrictSchema(t *testing.T) {
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		items := []string{
			`{"hash":"0xbad","timestamp":"yesterday","from":{"hash":"0x1"},"to":null}`,
			`{"hash":"0xOK","block":"7","timestamp":"1700000000","from":{"hash":"0xABC"},"to":{"hash":"0xDEF"},` +
				`"value":"not-a-number","fee":null,"gas_used":"10","gas_price":"3","status":"error"}`,
		}
		fmt.Fprint(w, page(items, ""))
	})

	txs, err := client.FetchAllTransactions(context.Background(), testAddress, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "0xok", tx.Hash)
	assert.Equal(t, uint64(7), tx.BlockNumber)
	assert.Equal(t, int64(1700000000), tx.Timestamp)
	assert.Equal(t, "0xabc", tx.From)
	assert.Equal(t, "0xdef", *tx.To)
	assert.Equal(t, int64(0), tx.Value.Int64())
	assert.Equal(t, int64(30), tx.Fee.Int64(), "fee falls back to gas used times price")
	assert.Equal(t, types.StatusFailed, tx.Status)
}

func TestFetchTokenTransfers(t *testing.T) {
	const token = "0x2222222222222222222222222222222222222222"
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/addresses/"+testAddress+"/token-transfers", r.URL.Path)
		assert.Equal(t, token, r.URL.Query().Get("token"))
		item := fmt.Sprintf(`{"from":{"hash":%q},"to":{"hash":"0x3"},"timestamp":"2024-05-01T10:00:00.000000Z",`+
			`"token":{"address_hash":%q,"decimals":"6"},"total":{"decimals":"6","value":"2500000"}}`, testAddress, "0x"+strings.ToUpper(token[2:]))
		fmt.Fprint(w, page([]string{item}, ""))
	})

	transfers, err := client.FetchTokenTransfers(context.Background(), testAddress, token, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, int32(6), transfers[0].Decimals)
	assert.Equal(t, "2500000", transfers[0].Amount.String())
	assert.Equal(t, testAddress, transfers[0].From)
}

func TestFetchNFTHoldings(t *testing.T) {
	client := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ERC-721,ERC-1155", r.URL.Query().Get("type"))
		if r.URL.Query().Get("token_id") == "" {
			fmt.Fprint(w, page([]string{`{"id":"1","token":{"address_hash":"0xAAA","type":"ERC-721"}}`},
				`{"token_contract_address_hash":"0xaaa","token_id":"1","token_type":"ERC-721"}`))
			return
		}
		fmt.Fprint(w, page([]string{`{"id":"9","token":{"address":"0xBBB","type":"ERC-1155"}}`}, ""))
	})

	holdings, err := client.FetchNFTHoldings(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, []types.NFTHolding{
		{Collection: "0xaaa", TokenID: "1"},
		{Collection: "0xbbb", TokenID: "9"},
	}, holdings)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, retry.ClassRateLimited, ClassifyError(&StatusError{StatusCode: 429}))
	assert.Equal(t, retry.ClassPermanent, ClassifyError(&StatusError{StatusCode: 404}))
	assert.Equal(t, retry.ClassPermanent, ClassifyError(&StatusError{StatusCode: 422}))
	assert.Equal(t, retry.ClassPermanent, ClassifyError(fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 400})))
	assert.Equal(t, retry.ClassTransient, ClassifyError(&StatusError{StatusCode: 503}))
	assert.Equal(t, retry.ClassTransient, ClassifyError(fmt.Errorf("failed to parse response")))
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  0xABCDEFabcdef0123456789012345678901234567 ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdefabcdef0123456789012345678901234567", got)

	for _, bad := range []string{"", "0x123", "abcdefabcdef0123456789012345678901234567", "0xZZZZEFabcdef0123456789012345678901234567"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/storage"
	"github.com/stretchr/testify/require"
)

const historicalBody = `{
	"candles": [
		{"time": 60, "open": 1, "high": 2, "low": 0.5, "close": 1.5},
		{"time": 120, "open": 1.5, "high": 2.5, "low": 1, "close": 2}
	],
	"timestamps": [60, 120],
	"indicatorsByFamily": {"rsi": [{"key": "rsi_14", "values": [50, 55]}]}
}`

func selection(t *testing.T) core.Selection {
	sel, err := core.ParseSelection("btcusdt", "1m")
	require.NoError(t, err)
	return sel
}

func TestRESTClient_Historical(t *testing.T) {
	var query atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/indicators/historical/", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		query.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(historicalBody))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL+"/", zerolog.Nop(), WithToken("secret"))
	h, err := client.Historical(context.Background(), selection(t), 5000)
	require.NoError(t, err)

	q := query.Load().(url.Values)
	require.Equal(t, []string{"BTCUSDT"}, q["symbol"])
	require.Equal(t, []string{"1m"}, q["interval"])
	require.Equal(t, []string{"1500"}, q["limit"])

	require.Equal(t, []int64{60, 120}, core.Times(h.Candles))
	_, ok := h.Indicators.Series("rsi_14")
	require.True(t, ok)
}

func TestRESTClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BADUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "Invalid symbol"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, zerolog.Nop(), WithRetries(0))

	bad, _ := core.ParseSelection("BADUSDT", "1m")
	_, err := client.Historical(context.Background(), bad, 100)
	require.ErrorIs(t, err, ErrRemote)

	_, err = client.Historical(context.Background(), selection(t), 100)
	require.ErrorIs(t, err, ErrStatus)
}

func TestRESTClient_Latest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(historicalBody))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, zerolog.Nop())
	update, err := client.Latest(context.Background(), selection(t))
	require.NoError(t, err)
	require.Equal(t, int64(120), update.Candle.Time)

	rsi, ok := update.Indicators.Series("rsi_14")
	require.True(t, ok)
	require.Equal(t, []core.DataPoint{{Time: 120, Value: 55}}, rsi.Plottable())
}

func TestCachedFetcher(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(historicalBody))
	}))
	defer server.Close()

	cache, err := storage.FromMemory(time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	fetcher := NewCachedFetcher(NewRESTClient(server.URL, zerolog.Nop()), cache, zerolog.Nop())

	first, err := fetcher.Historical(context.Background(), selection(t), 100)
	require.NoError(t, err)
	second, err := fetcher.Historical(context.Background(), selection(t), 100)
	require.NoError(t, err)

	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, first.Candles, second.Candles)

	rsi, ok := second.Indicators.Series("rsi_14")
	require.True(t, ok)
	require.Len(t, rsi.Plottable(), 2)

	_, err = fetcher.Historical(context.Background(), selection(t), 200)
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
}

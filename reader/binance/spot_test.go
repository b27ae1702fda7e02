package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/models"
)

func newTestAdapter(t *testing.T, stream models.Stream, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(stream, config.Pair{Key: "k", Secret: "s"}, srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestFetchKlines(t *testing.T) {
	stream := models.Stream{DataType: models.DataTypeKlines, Symbol: "eth-usdt", Period: "1min", Limit: 1}
	a := newTestAdapter(t, stream, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "ETHUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "1" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","0"]]`))
	})

	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := []string{"1499040000000", "0.01634790", "0.80000000", "0.01575800", "0.01577100", "148976.11427815", "1499644799999", "2434.19055334", "308"}
	got := rows[0].Values()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %s = %s, want %s", rows[0][i].Name, got[i], want[i])
		}
	}
}

func TestFetchTrades(t *testing.T) {
	stream := models.Stream{DataType: models.DataTypeTrades, Symbol: "BTCUSDT", Limit: 2}
	a := newTestAdapter(t, stream, func(w http.ResponseWriter, r *http.Request) {
		// go-binance serves recent trades from the v1 route.
		if r.URL.Path != "/api/v1/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("symbol") != "BTCUSDT" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`[
			{"id":1,"price":"4.0","qty":"12.0","quoteQty":"48.0","time":1499865549590,"isBuyerMaker":true,"isBestMatch":true},
			{"id":2,"price":"4.1","qty":"1.0","quoteQty":"4.1","time":1499865549591,"isBuyerMaker":false,"isBestMatch":true}]`))
	})

	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][4].Value != "sell" || rows[1][4].Value != "buy" {
		t.Errorf("unexpected sides %v / %v", rows[0], rows[1])
	}
}

func TestFetchTicker(t *testing.T) {
	stream := models.Stream{DataType: models.DataTypeTicker, Symbol: "BTCUSDT"}
	a := newTestAdapter(t, stream, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"100.5"}]`))
	})
	a.now = func() time.Time { return time.UnixMilli(1234) }

	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := rows[0].Values()
	if got[0] != "1234" || got[1] != "BTCUSDT" || got[2] != "100.5" {
		t.Fatalf("unexpected row %v", got)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, errkind.ErrRateLimit},
		{"bad key", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, errkind.ErrAuth},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stream := models.Stream{DataType: models.DataTypeTicker, Symbol: "BTCUSDT"}
			a := newTestAdapter(t, stream, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			})
			_, err := a.Fetch(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if errkind.Kind(err) != c.kind {
				t.Fatalf("kind = %v, want %v (%v)", errkind.Kind(err), c.kind, err)
			}
		})
	}
}

func TestNewAdapterRejectsUnknownDataType(t *testing.T) {
	if _, err := NewAdapter(models.Stream{DataType: "depth", Symbol: "BTCUSDT"}, config.Pair{}, nil, ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestListerSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"timezone":"UTC","serverTime":1,"symbols":[
			{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}]}`))
	}))
	t.Cleanup(srv.Close)

	got, err := NewLister(srv.Client(), srv.URL).Symbols(context.Background())
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	want := []models.Listing{
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC", Online: true},
		{Symbol: "LUNAUSDT", Base: "LUNA", Quote: "USDT", Online: false},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d listings, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("listing %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

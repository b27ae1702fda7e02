package huobi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thrasher-corp/gocryptotrader/currency"
	exchange "github.com/thrasher-corp/gocryptotrader/exchanges"
	gct "github.com/thrasher-corp/gocryptotrader/exchanges/huobi"

	"cryptocsv/config"
	"cryptocsv/internal/symbols"
	"cryptocsv/models"
)

const DefaultURL = "https://api.huobi.pro"

// Ticker is the merged market detail of one symbol.
type Ticker struct {
	Time   time.Time
	Open   decimal.Decimal
	Close  decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Amount decimal.Decimal
	Volume decimal.Decimal
	Count  int64
	// Bid and Ask are [price, size].
	Bid []decimal.Decimal
	Ask []decimal.Decimal
}

type Trade struct {
	ID        decimal.Decimal
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Direction string
	Time      time.Time
}

type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	Close  decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Amount decimal.Decimal
	Volume decimal.Decimal
	Count  int64
}

// Client is a gocryptotrader Huobi exchange configured for one key pair and
// transport. Its errors are unclassified; the Adapter classifies them.
type Client struct {
	ex  *gct.Exchange
	now func() time.Time
}

// NewClient sets up the exchange with its defaults, then swaps in httpClient
// and baseURL when given. Requests are signed with pair when it has a key.
func NewClient(pair config.Pair, httpClient *http.Client, baseURL string) (*Client, error) {
	ex := new(gct.Exchange)
	ex.SetDefaults()
	ex.Verbose = false

	if httpClient != nil {
		if err := ex.SetHTTPClient(httpClient); err != nil {
			return nil, fmt.Errorf("huobi http client: %w", err)
		}
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" && baseURL != DefaultURL {
		if err := ex.API.Endpoints.SetRunningURL(exchange.RestSpot.String(), baseURL); err != nil {
			return nil, fmt.Errorf("invalid huobi url %q: %w", baseURL, err)
		}
	}
	if pair.Key != "" {
		ex.SetCredentials(pair.Key, pair.Secret, "", "", "", "")
		ex.API.AuthenticatedSupport = true
	}
	return &Client{ex: ex, now: time.Now}, nil
}

// pairFor builds the SDK pair for a Huobi symbol. Huobi request symbols are
// base and quote concatenated in lower case, so an unknown quote asset only
// affects how the pair is split, not what is sent.
func pairFor(symbol string) (currency.Pair, error) {
	base, quote := symbols.Split(symbol)
	if quote == "" {
		if len(symbol) < 4 {
			return currency.EMPTYPAIR, fmt.Errorf("huobi symbol %q is too short", symbol)
		}
		base, quote = symbol[:3], symbol[3:]
	}
	return currency.NewPairFromStrings(strings.ToLower(base), strings.ToLower(quote))
}

func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	p, err := pairFor(symbol)
	if err != nil {
		return Ticker{}, err
	}
	m, err := c.ex.GetMarketDetailMerged(ctx, p)
	if err != nil {
		return Ticker{}, err
	}
	t := Ticker{
		Time:   c.now(),
		Open:   dec(m.Open),
		Close:  dec(m.Close),
		High:   dec(m.High),
		Low:    dec(m.Low),
		Amount: dec(m.Amount),
		Volume: dec(m.Volume),
		Count:  dec(m.Count).IntPart(),
	}
	for i := range m.Bid {
		t.Bid = append(t.Bid, dec(m.Bid[i]))
	}
	for i := range m.Ask {
		t.Ask = append(t.Ask, dec(m.Ask[i]))
	}
	return t, nil
}

// Trades returns the latest trade when size is at most 1, otherwise up to size
// recent trades. Trades are returned oldest first.
func (c *Client) Trades(ctx context.Context, symbol string, size int) ([]Trade, error) {
	p, err := pairFor(symbol)
	if err != nil {
		return nil, err
	}
	if size <= 1 {
		latest, err := c.ex.GetTrades(ctx, p)
		if err != nil {
			return nil, err
		}
		return convertTrades(nil, latest), nil
	}

	batches, err := c.ex.GetTradeHistory(ctx, p, int64(size))
	if err != nil {
		return nil, err
	}
	var out []Trade
	// Newest batch first on the wire.
	for i := len(batches) - 1; i >= 0; i-- {
		out = convertTrades(out, batches[i].Trades)
	}
	return out, nil
}

func convertTrades(out []Trade, in []gct.Trade) []Trade {
	for i := range in {
		t := in[i]
		out = append(out, Trade{
			ID:        dec(t.TradeID),
			Price:     dec(t.Price),
			Amount:    dec(t.Amount),
			Direction: t.Direction,
			Time:      instant(t.Timestamp, time.Millisecond),
		})
	}
	return out
}

// Candles returns up to size candles of period, newest first as Huobi sends them.
func (c *Client) Candles(ctx context.Context, symbol, period string, size int) ([]Candle, error) {
	p, err := pairFor(symbol)
	if err != nil {
		return nil, err
	}
	items, err := c.ex.GetSpotKline(ctx, gct.KlinesRequestParams{
		Symbol: p,
		Period: period,
		Size:   uint64(size),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(items))
	for i := range items {
		k := items[i]
		out = append(out, Candle{
			Time:   instant(k.IDTimestamp, time.Second),
			Open:   dec(k.Open),
			Close:  dec(k.Close),
			High:   dec(k.High),
			Low:    dec(k.Low),
			Amount: dec(k.Amount),
			Volume: dec(k.Volume),
			Count:  dec(k.Count).IntPart(),
		})
	}
	return out, nil
}

// Accounts returns the number of accounts the key can see. It is a signed call.
func (c *Client) Accounts(ctx context.Context) (int, error) {
	accounts, err := c.ex.GetAccounts(ctx)
	if err != nil {
		return 0, err
	}
	return len(accounts), nil
}

// Symbols returns every listed spot symbol. Only "online" symbols trade.
func (c *Client) Symbols(ctx context.Context) ([]models.Listing, error) {
	list, err := c.ex.GetSymbols(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify("symbols", err)
	}
	out := make([]models.Listing, 0, len(list))
	for _, s := range list {
		out = append(out, models.Listing{
			Symbol: s.Symbol,
			Base:   s.BaseCurrency,
			Quote:  s.QuoteCurrency,
			Online: s.State == "online",
		})
	}
	return out, nil
}

// dec converts the SDK's numeric fields. Depending on the endpoint they are
// plain numbers or types.Number.
func dec(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case decimal.Decimal:
		return n
	case interface{ Float64() float64 }:
		return decimal.NewFromFloat(n.Float64())
	}
	return decimal.Zero
}

// instant converts the SDK's timestamp fields. Raw integers count units since the epoch.
func instant(v any, unit time.Duration) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case interface{ Time() time.Time }:
		return t.Time()
	case int64:
		return time.Unix(0, t*int64(unit))
	case float64:
		return time.Unix(0, int64(t)*int64(unit))
	}
	return time.Time{}
}

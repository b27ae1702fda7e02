// Package huobi polls Huobi spot market data through the gocryptotrader Huobi exchange.
package huobi

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/internal/symbols"
	"cryptocsv/models"
)

// marketAPI is the part of Client the adapter calls.
type marketAPI interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Trades(ctx context.Context, symbol string, size int) ([]Trade, error)
	Candles(ctx context.Context, symbol, period string, size int) ([]Candle, error)
	Accounts(ctx context.Context) (int, error)
}

// Adapter fetches one data type for one symbol.
type Adapter struct {
	api      marketAPI
	dataType string
	symbol   string
	period   string
	limit    int
}

// NewAdapter builds a Client signed with pair that sends through client to
// baseURL, and returns an adapter for stream.
func NewAdapter(stream models.Stream, pair config.Pair, client *http.Client, baseURL string) (*Adapter, error) {
	c, err := NewClient(pair, client, baseURL)
	if err != nil {
		return nil, err
	}
	return newAdapter(stream, c)
}

func newAdapter(stream models.Stream, api marketAPI) (*Adapter, error) {
	a := &Adapter{
		api:      api,
		dataType: stream.DataType,
		symbol:   symbols.ForExchange(models.ExchangeHuobi, stream.Symbol),
		limit:    stream.Limit,
	}
	if a.limit <= 0 {
		a.limit = 1
	}

	switch stream.DataType {
	case models.DataTypeTicker, models.DataTypeTrades:
	case models.DataTypeKlines:
		period, err := symbols.Period(models.ExchangeHuobi, stream.Period)
		if err != nil {
			return nil, err
		}
		a.period = period
	default:
		return nil, fmt.Errorf("huobi does not support data type %q", stream.DataType)
	}
	return a, nil
}

func (a *Adapter) Exchange() string { return models.ExchangeHuobi }
func (a *Adapter) DataType() string { return a.dataType }

// Fetch performs one request and returns its rows.
func (a *Adapter) Fetch(ctx context.Context) ([]models.Row, error) {
	var (
		rows []models.Row
		err  error
	)
	switch a.dataType {
	case models.DataTypeTicker:
		rows, err = a.fetchTicker(ctx)
	case models.DataTypeTrades:
		rows, err = a.fetchTrades(ctx)
	default:
		rows, err = a.fetchKlines(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(a.dataType, err)
	}
	return rows, nil
}

// VerifyCredentials lists the key's accounts so rejected keys surface as
// ErrAuth before collection starts.
func (a *Adapter) VerifyCredentials(ctx context.Context) error {
	if _, err := a.api.Accounts(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify("accounts", err)
	}
	return nil
}

func (a *Adapter) fetchTicker(ctx context.Context) ([]models.Row, error) {
	t, err := a.api.Ticker(ctx, a.symbol)
	if err != nil {
		return nil, err
	}
	return []models.Row{{
		models.F("ts", strconv.FormatInt(t.Time.UnixMilli(), 10)),
		models.F("open", t.Open.String()),
		models.F("close", t.Close.String()),
		models.F("high", t.High.String()),
		models.F("low", t.Low.String()),
		models.F("amount", t.Amount.String()),
		models.F("vol", t.Volume.String()),
		models.F("count", strconv.FormatInt(t.Count, 10)),
		models.F("bid", level(t.Bid, 0)),
		models.F("bid_size", level(t.Bid, 1)),
		models.F("ask", level(t.Ask, 0)),
		models.F("ask_size", level(t.Ask, 1)),
	}}, nil
}

func level(v []decimal.Decimal, i int) string {
	if i < len(v) {
		return v[i].String()
	}
	return ""
}

func (a *Adapter) fetchTrades(ctx context.Context) ([]models.Row, error) {
	trades, err := a.api.Trades(ctx, a.symbol, a.limit)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, models.Row{
			models.F("trade_id", t.ID.String()),
			models.F("price", t.Price.String()),
			models.F("amount", t.Amount.String()),
			models.F("direction", t.Direction),
			models.F("ts", strconv.FormatInt(t.Time.UnixMilli(), 10)),
		})
	}
	return rows, nil
}

func (a *Adapter) fetchKlines(ctx context.Context) ([]models.Row, error) {
	candles, err := a.api.Candles(ctx, a.symbol, a.period, a.limit)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, 0, len(candles))
	// Huobi returns the newest candle first.
	for i := len(candles) - 1; i >= 0; i-- {
		c := candles[i]
		rows = append(rows, models.Row{
			models.F("id", strconv.FormatInt(c.Time.Unix(), 10)),
			models.F("open", c.Open.String()),
			models.F("close", c.Close.String()),
			models.F("high", c.High.String()),
			models.F("low", c.Low.String()),
			models.F("amount", c.Amount.String()),
			models.F("vol", c.Volume.String()),
			models.F("count", strconv.FormatInt(c.Count, 10)),
		})
	}
	return rows, nil
}

// statusRe finds the HTTP status the SDK's requester embeds in its errors.
var statusRe = regexp.MustCompile(`status code:? (\d{3})`)

// classify maps SDK errors onto errkind. The SDK reports HTTP statuses and
// Huobi err-code/err-msg values in the error text only.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("huobi %s: %w", op, err)
	if errkind.IsNetwork(err) {
		return errkind.Wrap(errkind.ErrTransient, wrapped)
	}

	msg := strings.ToLower(err.Error())
	if m := statusRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if kind := errkind.FromHTTPStatus(code); kind != nil {
			return errkind.Wrap(kind, wrapped)
		}
	}
	switch {
	case strings.Contains(msg, "signature"),
		strings.Contains(msg, "access-key"),
		strings.Contains(msg, "access key"),
		strings.Contains(msg, "login-required"),
		strings.Contains(msg, "api-key"),
		strings.Contains(msg, "credentials"):
		return errkind.Wrap(errkind.ErrAuth, wrapped)
	case strings.Contains(msg, "too-many"),
		strings.Contains(msg, "too many"),
		strings.Contains(msg, "limit-exceeded"),
		strings.Contains(msg, "frequency"):
		return errkind.Wrap(errkind.ErrRateLimit, wrapped)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "system-busy"),
		strings.Contains(msg, "maintenance"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "eof"):
		return errkind.Wrap(errkind.ErrTransient, wrapped)
	}
	return wrapped
}

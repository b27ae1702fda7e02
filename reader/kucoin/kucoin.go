// Package kucoin polls Kucoin spot market data through the Kucoin universal SDK.
package kucoin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/internal/symbols"
	"cryptocsv/models"
)

const DefaultURL = "https://api.kucoin.com"

// marketAPI is the subset of the SDK spot market API the adapter calls.
type marketAPI interface {
	GetTicker(req *spotmarket.GetTickerReq, ctx context.Context) (*spotmarket.GetTickerResp, error)
	GetTradeHistory(req *spotmarket.GetTradeHistoryReq, ctx context.Context) (*spotmarket.GetTradeHistoryResp, error)
	GetKlines(req *spotmarket.GetKlinesReq, ctx context.Context) (*spotmarket.GetKlinesResp, error)
}

// Adapter fetches one data type for one symbol.
type Adapter struct {
	api      marketAPI
	dataType string
	symbol   string
	period   string
	limit    int
}

// NewAdapter builds an SDK client authenticated with pair and returns an
// adapter for stream.
func NewAdapter(stream models.Stream, pair config.Pair, src config.ExchangeSourceConfig, timeout time.Duration) (*Adapter, error) {
	return newAdapter(stream, newMarketAPI(pair, src, timeout))
}

func newMarketAPI(pair config.Pair, src config.ExchangeSourceConfig, timeout time.Duration) spotmarket.MarketAPI {
	baseURL := strings.TrimRight(src.URL, "/")
	if baseURL == "" {
		baseURL = DefaultURL
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(src.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(src.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(src.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(src.ConnectionPool.IdleConnTimeout).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithKey(pair.Key).
		WithSecret(pair.Secret).
		WithPassphrase(pair.Passphrase).
		WithSpotEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := sdkapi.NewClient(option)
	return client.RestService().GetSpotService().GetMarketAPI()
}

func newAdapter(stream models.Stream, api marketAPI) (*Adapter, error) {
	a := &Adapter{
		api:      api,
		dataType: stream.DataType,
		symbol:   symbols.ForExchange(models.ExchangeKucoin, stream.Symbol),
		limit:    stream.Limit,
	}
	if a.limit <= 0 {
		a.limit = 1
	}

	switch stream.DataType {
	case models.DataTypeTicker, models.DataTypeTrades:
	case models.DataTypeKlines:
		period, err := symbols.Period(models.ExchangeKucoin, stream.Period)
		if err != nil {
			return nil, err
		}
		a.period = period
	default:
		return nil, fmt.Errorf("kucoin does not support data type %q", stream.DataType)
	}
	return a, nil
}

func (a *Adapter) Exchange() string { return models.ExchangeKucoin }
func (a *Adapter) DataType() string { return a.dataType }

// Fetch performs one SDK call and returns its rows.
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

func (a *Adapter) fetchTicker(ctx context.Context) ([]models.Row, error) {
	req := spotmarket.NewGetTickerReqBuilder().SetSymbol(a.symbol).Build()
	resp, err := a.api.GetTicker(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty ticker response for %s", a.symbol)
	}
	return []models.Row{{
		models.F("time", strconv.FormatInt(resp.Time, 10)),
		models.F("sequence", resp.Sequence),
		models.F("price", resp.Price),
		models.F("size", resp.Size),
		models.F("best_bid", resp.BestBid),
		models.F("best_bid_size", resp.BestBidSize),
		models.F("best_ask", resp.BestAsk),
		models.F("best_ask_size", resp.BestAskSize),
	}}, nil
}

func (a *Adapter) fetchTrades(ctx context.Context) ([]models.Row, error) {
	req := spotmarket.NewGetTradeHistoryReqBuilder().SetSymbol(a.symbol).Build()
	resp, err := a.api.GetTradeHistory(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty trade history response for %s", a.symbol)
	}

	trades := append([]spotmarket.GetTradeHistoryData(nil), resp.Data...)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Time < trades[j].Time })
	if len(trades) > a.limit {
		trades = trades[len(trades)-a.limit:]
	}

	rows := make([]models.Row, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, models.Row{
			models.F("sequence", t.Sequence),
			models.F("price", t.Price),
			models.F("size", t.Size),
			models.F("side", t.Side),
			models.F("time", strconv.FormatInt(t.Time, 10)),
		})
	}
	return rows, nil
}

var klineColumns = []string{"time", "open", "close", "high", "low", "volume", "turnover"}

func (a *Adapter) fetchKlines(ctx context.Context) ([]models.Row, error) {
	req := spotmarket.NewGetKlinesReqBuilder().SetSymbol(a.symbol).SetType(a.period).Build()
	resp, err := a.api.GetKlines(req, ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty klines response for %s", a.symbol)
	}

	candles := make([][]string, 0, len(resp.Data))
	for _, c := range resp.Data {
		if len(c) >= len(klineColumns) {
			candles = append(candles, c)
		}
	}
	sort.SliceStable(candles, func(i, j int) bool {
		ti, _ := strconv.ParseInt(candles[i][0], 10, 64)
		tj, _ := strconv.ParseInt(candles[j][0], 10, 64)
		return ti < tj
	})
	if len(candles) > a.limit {
		candles = candles[len(candles)-a.limit:]
	}

	rows := make([]models.Row, 0, len(candles))
	for _, c := range candles {
		row := make(models.Row, len(klineColumns))
		for i, name := range klineColumns {
			row[i] = models.F(name, c[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var (
	authCodes      = []string{"400001", "400002", "400003", "400004", "400005", "400006", "400007", "411100"}
	rateLimitCodes = []string{"429000", "Too Many Requests", "too many requests"}
)

// classify maps SDK errors onto errkind. The SDK reports Kucoin error codes in
// the message text only.
func classify(dataType string, err error) error {
	wrapped := fmt.Errorf("kucoin %s: %w", dataType, err)
	if errkind.IsNetwork(err) {
		return errkind.Wrap(errkind.ErrTransient, wrapped)
	}
	msg := err.Error()
	for _, code := range rateLimitCodes {
		if strings.Contains(msg, code) {
			return errkind.Wrap(errkind.ErrRateLimit, wrapped)
		}
	}
	for _, code := range authCodes {
		if strings.Contains(msg, code) {
			return errkind.Wrap(errkind.ErrAuth, wrapped)
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "EOF") {
		return errkind.Wrap(errkind.ErrTransient, wrapped)
	}
	return wrapped
}

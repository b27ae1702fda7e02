package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/internal/symbols"
	"cryptocsv/models"
)

const DefaultURL = "https://api.binance.com"

// Adapter fetches one spot data type for one symbol with the go-binance client.
type Adapter struct {
	client   *binance.Client
	dataType string
	symbol   string
	interval string
	limit    int
	now      func() time.Time
}

// NewAdapter returns an adapter whose client authenticates with pair and sends
// requests through httpClient to baseURL.
func NewAdapter(stream models.Stream, pair config.Pair, httpClient *http.Client, baseURL string) (*Adapter, error) {
	client := binance.NewClient(pair.Key, pair.Secret)
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		client.BaseURL = baseURL
	}

	a := &Adapter{
		client:   client,
		dataType: stream.DataType,
		symbol:   symbols.ForExchange(models.ExchangeBinance, stream.Symbol),
		limit:    stream.Limit,
		now:      time.Now,
	}
	if a.limit <= 0 {
		a.limit = 1
	}

	switch stream.DataType {
	case models.DataTypeTicker, models.DataTypeTrades:
	case models.DataTypeKlines:
		interval, err := symbols.Period(models.ExchangeBinance, stream.Period)
		if err != nil {
			return nil, err
		}
		a.interval = interval
	default:
		return nil, fmt.Errorf("binance does not support data type %q", stream.DataType)
	}
	return a, nil
}

func (a *Adapter) Exchange() string { return models.ExchangeBinance }
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

// VerifyCredentials reads the account so rejected keys surface as ErrAuth.
func (a *Adapter) VerifyCredentials(ctx context.Context) error {
	if _, err := a.client.NewGetAccountService().Do(ctx); err != nil {
		return classify("account", err)
	}
	return nil
}

func (a *Adapter) fetchTicker(ctx context.Context) ([]models.Row, error) {
	prices, err := a.client.NewListPricesService().Symbol(a.symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, 0, len(prices))
	ts := strconv.FormatInt(a.now().UnixMilli(), 10)
	for _, p := range prices {
		rows = append(rows, models.Row{
			models.F("time", ts),
			models.F("symbol", p.Symbol),
			models.F("price", p.Price),
		})
	}
	return rows, nil
}

func (a *Adapter) fetchTrades(ctx context.Context) ([]models.Row, error) {
	trades, err := a.client.NewRecentTradesService().Symbol(a.symbol).Limit(a.limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, 0, len(trades))
	for _, t := range trades {
		side := "buy"
		if t.IsBuyerMaker {
			side = "sell"
		}
		rows = append(rows, models.Row{
			models.F("trade_id", strconv.FormatInt(t.ID, 10)),
			models.F("price", t.Price),
			models.F("qty", t.Quantity),
			models.F("quote_qty", t.QuoteQuantity),
			models.F("side", side),
			models.F("time", strconv.FormatInt(t.Time, 10)),
		})
	}
	return rows, nil
}

func (a *Adapter) fetchKlines(ctx context.Context) ([]models.Row, error) {
	klines, err := a.client.NewKlinesService().Symbol(a.symbol).Interval(a.interval).Limit(a.limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]models.Row, 0, len(klines))
	for _, k := range klines {
		rows = append(rows, models.Row{
			models.F("open_time", strconv.FormatInt(k.OpenTime, 10)),
			models.F("open", k.Open),
			models.F("high", k.High),
			models.F("low", k.Low),
			models.F("close", k.Close),
			models.F("volume", k.Volume),
			models.F("close_time", strconv.FormatInt(k.CloseTime, 10)),
			models.F("quote_volume", k.QuoteAssetVolume),
			models.F("trades", strconv.FormatInt(k.TradeNum, 10)),
		})
	}
	return rows, nil
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("binance %s: %w", op, err)

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return errkind.Wrap(errkind.ErrRateLimit, wrapped)
		case -1002, -1022, -2008, -2014, -2015:
			return errkind.Wrap(errkind.ErrAuth, wrapped)
		case -1000, -1001, -1006, -1007:
			return errkind.Wrap(errkind.ErrTransient, wrapped)
		}
		return wrapped
	}
	if errkind.IsNetwork(err) {
		return errkind.Wrap(errkind.ErrTransient, wrapped)
	}
	return wrapped
}

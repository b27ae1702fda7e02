package kucoin

import (
	"context"
	"fmt"
	"time"

	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"

	"cryptocsv/config"
	"cryptocsv/models"
)

type symbolAPI interface {
	GetAllSymbols(req *spotmarket.GetAllSymbolsReq, ctx context.Context) (*spotmarket.GetAllSymbolsResp, error)
}

// Lister reads the spot symbol table.
type Lister struct {
	api symbolAPI
}

func NewLister(pair config.Pair, src config.ExchangeSourceConfig, timeout time.Duration) *Lister {
	return &Lister{api: newMarketAPI(pair, src, timeout)}
}

// Symbols returns every listed symbol. Symbols with trading disabled are offline.
func (l *Lister) Symbols(ctx context.Context) ([]models.Listing, error) {
	resp, err := l.api.GetAllSymbols(spotmarket.NewGetAllSymbolsReq(), ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify("symbols", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty symbols response")
	}
	out := make([]models.Listing, 0, len(resp.Data))
	for _, s := range resp.Data {
		out = append(out, models.Listing{
			Symbol: s.Symbol,
			Base:   s.BaseCurrency,
			Quote:  s.QuoteCurrency,
			Online: s.EnableTrading,
		})
	}
	return out, nil
}

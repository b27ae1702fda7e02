package binance

import (
	"context"
	"net/http"
	"strings"

	binance "github.com/adshao/go-binance/v2"

	"cryptocsv/models"
)

// Lister reads the spot symbol table from exchangeInfo. It needs no credentials.
type Lister struct {
	client *binance.Client
}

func NewLister(httpClient *http.Client, baseURL string) *Lister {
	client := binance.NewClient("", "")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		client.BaseURL = baseURL
	}
	return &Lister{client: client}
}

// Symbols returns every listed symbol. Only TRADING symbols are online.
func (l *Lister) Symbols(ctx context.Context) ([]models.Listing, error) {
	info, err := l.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify("exchange info", err)
	}
	out := make([]models.Listing, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, models.Listing{
			Symbol: s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Online: s.Status == "TRADING",
		})
	}
	return out, nil
}

package reader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/logger"
	"cryptocsv/models"
	"cryptocsv/reader/binance"
	"cryptocsv/reader/huobi"
	"cryptocsv/reader/kucoin"
	"cryptocsv/reader/transport"
)

// Lister returns every spot symbol an exchange lists.
type Lister interface {
	Symbols(ctx context.Context) ([]models.Listing, error)
}

// NewLister returns the symbol lister of exchange. Kucoin and Huobi sign with
// the exchange's pair; Binance's exchangeInfo is public.
func NewLister(exchange string, creds *config.Credentials, cfg *config.Config) (Lister, error) {
	src := cfg.SourceFor(exchange)
	timeout := cfg.Reader.Timeout

	switch exchange {
	case models.ExchangeHuobi:
		pair, err := creds.Get(exchange)
		if err != nil {
			return nil, err
		}
		return huobi.NewClient(pair, transport.NewHTTPClient(src.ConnectionPool, timeout, ""), src.URL)
	case models.ExchangeKucoin:
		pair, err := creds.Get(exchange)
		if err != nil {
			return nil, err
		}
		return kucoin.NewLister(pair, src, timeout), nil
	case models.ExchangeBinance:
		return binance.NewLister(transport.NewHTTPClient(src.ConnectionPool, timeout, ""), src.URL), nil
	}
	return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("unsupported exchange %q", exchange))
}

// Expand replaces each wildcard stream with one stream per online symbol that
// matches its quote filter and is not excluded. Expanded streams get their
// default target under dataDir. An explicit stream keeps its target, and an
// expanded stream that would write to the same file is skipped. Each exchange
// is listed once.
func Expand(ctx context.Context, streams []models.Stream, dataDir string, listerFor func(exchange string) (Lister, error)) ([]models.Stream, error) {
	log := logger.GetLogger().WithComponent("discovery")

	taken := make(map[string]bool, len(streams))
	for _, s := range streams {
		if !s.IsWildcard() {
			taken[filepath.Clean(s.Target)] = true
		}
	}

	listings := make(map[string][]models.Listing)
	out := make([]models.Stream, 0, len(streams))
	for _, s := range streams {
		if !s.IsWildcard() {
			out = append(out, s)
			continue
		}

		list, ok := listings[s.Exchange]
		if !ok {
			lister, err := listerFor(s.Exchange)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Name(), err)
			}
			if list, err = lister.Symbols(ctx); err != nil {
				return nil, fmt.Errorf("list %s symbols: %w", s.Exchange, err)
			}
			listings[s.Exchange] = list
		}

		selected := Select(list, s.Quote, s.Exclude)
		added := 0
		for _, sym := range selected {
			e := s
			e.Symbol = sym
			e.Quote = ""
			e.Exclude = nil
			e.Target = filepath.Clean(models.DefaultTarget(dataDir, e.Exchange, e.DataType, sym, e.Period))
			if taken[e.Target] {
				continue
			}
			taken[e.Target] = true
			out = append(out, e)
			added++
		}
		log.WithFields(logger.Fields{
			"exchange":  s.Exchange,
			"data_type": s.DataType,
			"listed":    len(list),
			"expanded":  added,
		}).Info("wildcard stream expanded")
	}
	return out, nil
}

// Select returns the sorted symbols of list that are online, quoted in quote
// when quote is set, and not excluded.
func Select(list []models.Listing, quote string, exclude []string) []string {
	var out []string
	for _, l := range list {
		if !l.Online {
			continue
		}
		if quote != "" && !strings.EqualFold(l.Quote, quote) {
			continue
		}
		if l.Excluded(exclude) {
			continue
		}
		out = append(out, l.Symbol)
	}
	sort.Strings(out)
	return out
}

// Package reader builds exchange adapters for configured streams.
package reader

import (
	"context"
	"fmt"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/models"
	"cryptocsv/reader/binance"
	"cryptocsv/reader/huobi"
	"cryptocsv/reader/kucoin"
	"cryptocsv/reader/transport"
)

// Adapter performs one authenticated request per Fetch and returns the rows it
// produced. Errors are classified with errkind.
type Adapter interface {
	Exchange() string
	DataType() string
	Fetch(ctx context.Context) ([]models.Row, error)
}

// Verifier is implemented by adapters that can check their credentials with a
// signed request before polling starts.
type Verifier interface {
	VerifyCredentials(ctx context.Context) error
}

// New returns the adapter for stream, authenticated with the exchange's pair
// from creds.
func New(stream models.Stream, creds *config.Credentials, cfg *config.Config) (Adapter, error) {
	pair, err := creds.Get(stream.Exchange)
	if err != nil {
		return nil, err
	}

	src := cfg.SourceFor(stream.Exchange)
	timeout := cfg.Reader.Timeout

	var adapter Adapter
	switch stream.Exchange {
	case models.ExchangeHuobi:
		client := transport.NewHTTPClient(src.ConnectionPool, timeout, stream.LocalIP)
		adapter, err = huobi.NewAdapter(stream, pair, client, src.URL)
	case models.ExchangeKucoin:
		adapter, err = kucoin.NewAdapter(stream, pair, src, timeout)
	case models.ExchangeBinance:
		client := transport.NewHTTPClient(src.ConnectionPool, timeout, stream.LocalIP)
		adapter, err = binance.NewAdapter(stream, pair, client, src.URL)
	default:
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("unsupported exchange %q", stream.Exchange))
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("%s: %w", stream.Name(), err))
	}
	return adapter, nil
}

// Verify checks credentials when the adapter supports it. Adapters without a
// signed endpoint report nil.
func Verify(ctx context.Context, a Adapter) error {
	v, ok := a.(Verifier)
	if !ok {
		return nil
	}
	return v.VerifyCredentials(ctx)
}

package models

import (
	"path/filepath"
	"strings"
	"time"
)

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// ROWS ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Field is one named value of a row. Values are kept as exchange-formatted text.
type Field struct {
	Name  string
	Value string
}

// Row is one record returned by an exchange call, in column order.
type Row []Field

// F builds a Field.
func F(name, value string) Field {
	return Field{Name: name, Value: value}
}

// Header returns the field names in order.
func (r Row) Header() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Name
	}
	return out
}

// Values returns the field values in order.
func (r Row) Values() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Value
	}
	return out
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// STREAMS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Supported exchanges.
const (
	ExchangeHuobi   = "huobi"
	ExchangeKucoin  = "kucoin"
	ExchangeBinance = "binance"
)

// Supported data types.
const (
	DataTypeTicker = "ticker"
	DataTypeTrades = "trades"
	DataTypeKlines = "klines"
)

// WildcardSymbol expands to every listed symbol of the exchange at startup.
const WildcardSymbol = "*"

// Stream binds one exchange/data-type/symbol combination to one output file.
type Stream struct {
	Exchange string
	DataType string
	Symbol   string
	// Quote restricts a wildcard stream to symbols quoted in this asset.
	Quote string
	// Exclude lists symbols or assets a wildcard stream skips.
	Exclude []string
	// Period is the kline period, e.g. "1min". Ignored for other data types.
	Period   string
	Limit    int
	Interval time.Duration
	Target   string
	// LocalIP binds outbound connections to a source address when set.
	LocalIP string
}

// Name identifies the stream in logs. Kline streams include their period.
func (s Stream) Name() string {
	if s.DataType == DataTypeKlines && s.Period != "" {
		return s.Exchange + "_" + s.DataType + "_" + s.Period + "_" + s.Symbol
	}
	return s.Exchange + "_" + s.DataType + "_" + s.Symbol
}

// IsWildcard reports whether the stream still has to be expanded.
func (s Stream) IsWildcard() bool {
	return s.Symbol == WildcardSymbol
}

// DefaultTarget is the file a stream writes to when none is configured:
// <data_dir>/<exchange>/<data_type>/<symbol>.csv, with the kline period as an
// extra directory level.
func DefaultTarget(dataDir, exchange, dataType, symbol, period string) string {
	if dataType == DataTypeKlines && period != "" {
		return filepath.Join(dataDir, exchange, dataType, period, symbol+".csv")
	}
	return filepath.Join(dataDir, exchange, dataType, symbol+".csv")
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// LISTINGS /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Listing is one spot symbol as reported by an exchange's symbol endpoint.
type Listing struct {
	Symbol string
	Base   string
	Quote  string
	// Online is false for symbols that are suspended, delisted or not yet trading.
	Online bool
}

// Excluded reports whether any entry of exclude names the symbol or one of its
// assets. Comparison ignores case and separators, so "ETH-USDT" excludes "ethusdt".
func (l Listing) Excluded(exclude []string) bool {
	sym := normalize(l.Symbol)
	for _, e := range exclude {
		e = normalize(e)
		if e == "" {
			continue
		}
		if e == sym || strings.EqualFold(e, l.Base) || strings.EqualFold(e, l.Quote) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "/", "", "_", "").Replace(strings.TrimSpace(s)))
}

package symbols

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// quoteAssets are tried longest first when a symbol has no separator.
var quoteAssets = []string{"USDT", "USDC", "TUSD", "BUSD", "FDUSD", "USDD", "BTC", "ETH", "KCS", "BNB", "EUR", "TRY", "DAI"}

// ForExchange converts a symbol written in any common style (ETHUSDT, eth-usdt,
// ETH/USDT, ethusdt) to the style the exchange's REST API expects:
//
//	huobi   -> ethusdt
//	kucoin  -> ETH-USDT
//	binance -> ETHUSDT
func ForExchange(exchange, sym string) string {
	sym = strings.TrimSpace(sym)
	switch strings.ToLower(exchange) {
	case "huobi":
		return strings.ToLower(compact(sym))
	case "kucoin":
		base, quote := Split(sym)
		if quote == "" {
			return strings.ToUpper(base)
		}
		return strings.ToUpper(base + "-" + quote)
	case "binance":
		return strings.ToUpper(compact(sym))
	default:
		// others already use the desired format
	}
	return sym
}

func compact(sym string) string {
	r := strings.NewReplacer("-", "", "/", "", "_", "")
	return r.Replace(sym)
}

// Split separates a symbol into base and quote. Quote is empty when no separator
// or known quote asset is found.
func Split(sym string) (string, string) {
	for _, sep := range []string{"-", "/", "_"} {
		if i := strings.Index(sym, sep); i > 0 {
			return sym[:i], sym[i+1:]
		}
	}
	upper := strings.ToUpper(sym)
	best := ""
	for _, q := range quoteAssets {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) && len(q) > len(best) {
			best = q
		}
	}
	if best == "" {
		return sym, ""
	}
	return upper[:len(upper)-len(best)], best
}

var periodRe = regexp.MustCompile(`^(\d+)\s*(m|min|mins|h|hour|hours|d|day|days|w|week|weeks|M|mon|month)$`)

// Period converts a candlestick period such as "1min", "1m", "4hour" or "1d"
// to the exchange's own spelling.
func Period(exchange, period string) (string, error) {
	m := periodRe.FindStringSubmatch(strings.TrimSpace(period))
	if m == nil {
		return "", fmt.Errorf("unrecognised kline period %q", period)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("unrecognised kline period %q", period)
	}

	var unit string
	switch m[2] {
	case "m", "min", "mins":
		unit = "min"
	case "h", "hour", "hours":
		unit = "hour"
	case "d", "day", "days":
		unit = "day"
	case "w", "week", "weeks":
		unit = "week"
	default:
		unit = "mon"
	}

	switch strings.ToLower(exchange) {
	case "binance":
		short := map[string]string{"min": "m", "hour": "h", "day": "d", "week": "w", "mon": "M"}
		return fmt.Sprintf("%d%s", n, short[unit]), nil
	case "kucoin":
		if unit == "mon" {
			return "", fmt.Errorf("kucoin has no monthly klines")
		}
		return fmt.Sprintf("%d%s", n, unit), nil
	case "huobi":
		if unit == "hour" && n == 1 {
			return "60min", nil
		}
		return fmt.Sprintf("%d%s", n, unit), nil
	}
	return period, nil
}

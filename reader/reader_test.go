package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/models"
	"cryptocsv/reader/huobi"
	"cryptocsv/reader/kucoin"
)

func loadCreds(t *testing.T, body string) *config.Credentials {
	t.Helper()
	for _, name := range []string{
		"HUOBI_API_KEY", "HUOBI_SECRET_KEY", "HUOBI_PASSPHRASE",
		"KUCOIN_API_KEY", "KUCOIN_SECRET_KEY", "KUCOIN_PASSPHRASE",
		"BINANCE_API_KEY", "BINANCE_SECRET_KEY", "BINANCE_PASSPHRASE",
	} {
		t.Setenv(name, "")
	}
	path := filepath.Join(t.TempDir(), "credentials.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	return creds
}

const twoExchanges = `
huobi:
  api_key: hk
  secret_key: hs
kucoin:
  api_key: kk
  secret_key: ks
  passphrase: kp
`

func testConfig() *config.Config {
	return &config.Config{Reader: config.ReaderConfig{Timeout: time.Second}}
}

func TestNewSelectsAdapterByExchange(t *testing.T) {
	creds := loadCreds(t, twoExchanges)

	a, err := New(models.Stream{Exchange: models.ExchangeHuobi, DataType: models.DataTypeTicker, Symbol: "btcusdt"}, creds, testConfig())
	if err != nil {
		t.Fatalf("New huobi: %v", err)
	}
	if _, ok := a.(*huobi.Adapter); !ok {
		t.Fatalf("expected huobi adapter, got %T", a)
	}

	a, err = New(models.Stream{Exchange: models.ExchangeKucoin, DataType: models.DataTypeTrades, Symbol: "BTC-USDT"}, creds, testConfig())
	if err != nil {
		t.Fatalf("New kucoin: %v", err)
	}
	if _, ok := a.(*kucoin.Adapter); !ok {
		t.Fatalf("expected kucoin adapter, got %T", a)
	}
	if err := Verify(context.Background(), a); err != nil {
		t.Fatalf("adapters without verification should pass, got %v", err)
	}
}

func TestNewWithoutCredentials(t *testing.T) {
	creds := loadCreds(t, twoExchanges)
	_, err := New(models.Stream{Exchange: models.ExchangeBinance, DataType: models.DataTypeTicker, Symbol: "BTCUSDT"}, creds, testConfig())
	if !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewRejectsUnsupportedDataType(t *testing.T) {
	creds := loadCreds(t, twoExchanges)
	_, err := New(models.Stream{Exchange: models.ExchangeHuobi, DataType: "depth", Symbol: "btcusdt"}, creds, testConfig())
	if !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cryptocsv/internal/errkind"
	"cryptocsv/models"
)

// Pair is one exchange's API key and secret.
type Pair struct {
	Key    string
	Secret string
	// Passphrase is only used by Kucoin.
	Passphrase string
}

type pairFile struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
}

type credentialsFile struct {
	Huobi   pairFile `yaml:"huobi"`
	Kucoin  pairFile `yaml:"kucoin"`
	Binance pairFile `yaml:"binance"`
}

// Credentials holds the secrets read at startup. It is never modified after
// LoadCredentials returns.
type Credentials struct {
	pairs map[string]Pair
}

// LoadCredentials reads the private credentials file. Environment variables
// (HUOBI_API_KEY, KUCOIN_SECRET_KEY, ...) take precedence over file values.
// The Huobi and Kucoin key/secret pairs are required.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("failed to read credentials file: %w", err))
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("failed to parse credentials file: %w", err))
	}

	pairs := map[string]Pair{
		models.ExchangeHuobi:   withEnv("HUOBI", file.Huobi),
		models.ExchangeKucoin:  withEnv("KUCOIN", file.Kucoin),
		models.ExchangeBinance: withEnv("BINANCE", file.Binance),
	}

	for _, exchange := range []string{models.ExchangeHuobi, models.ExchangeKucoin} {
		p := pairs[exchange]
		if p.Key == "" {
			return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("%s.api_key is required", exchange))
		}
		if p.Secret == "" {
			return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("%s.secret_key is required", exchange))
		}
	}

	return &Credentials{pairs: pairs}, nil
}

// withEnv overlays <PREFIX>_API_KEY, _SECRET_KEY and _PASSPHRASE on the file
// values. Values are stored exactly as written; only empty ones are missing.
func withEnv(prefix string, f pairFile) Pair {
	p := Pair{
		Key:        f.APIKey,
		Secret:     f.SecretKey,
		Passphrase: f.Passphrase,
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		p.Key = v
	}
	if v := os.Getenv(prefix + "_SECRET_KEY"); v != "" {
		p.Secret = v
	}
	if v := os.Getenv(prefix + "_PASSPHRASE"); v != "" {
		p.Passphrase = v
	}
	return p
}

// Get returns the pair for exchange. An exchange without a complete pair is a
// configuration error.
func (c *Credentials) Get(exchange string) (Pair, error) {
	p, ok := c.pairs[strings.ToLower(exchange)]
	if !ok || p.Key == "" || p.Secret == "" {
		return Pair{}, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("no credentials for exchange %s", exchange))
	}
	return p, nil
}

// Require checks that every exchange used by streams has credentials.
func (c *Credentials) Require(streams []models.Stream) error {
	for _, s := range streams {
		if _, err := c.Get(s.Exchange); err != nil {
			return fmt.Errorf("stream %s: %w", s.Name(), err)
		}
	}
	return nil
}

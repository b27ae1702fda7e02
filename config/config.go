package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptocsv/internal/errkind"
	"cryptocsv/models"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Collector CollectorConfig `yaml:"collector"`
	Reader    ReaderConfig    `yaml:"reader"`
	Source    SourceConfig    `yaml:"source"`
	Streams   []StreamConfig  `yaml:"streams"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type CollectorConfig struct {
	DataDir string `yaml:"data_dir"`
	// Duration bounds how long workers run. Zero runs until the process is signalled.
	Duration time.Duration `yaml:"duration"`
	Interval time.Duration `yaml:"interval"`
	Stagger  StaggerConfig `yaml:"stagger"`
	// Exclude applies to every wildcard stream, in addition to its own list.
	Exclude []string `yaml:"exclude"`
}

type StaggerConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Pause     time.Duration `yaml:"pause"`
}

type ReaderConfig struct {
	Timeout           time.Duration   `yaml:"timeout"`
	VerifyCredentials bool            `yaml:"verify_credentials"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Retry             RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ExchangeSourceConfig struct {
	URL            string               `yaml:"url"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type SourceConfig struct {
	Huobi   ExchangeSourceConfig `yaml:"huobi"`
	Kucoin  ExchangeSourceConfig `yaml:"kucoin"`
	Binance ExchangeSourceConfig `yaml:"binance"`
}

// StreamConfig is one (exchange, data type, target) tuple as written in the config file.
// A symbol of "*" is expanded at startup to every online symbol of the exchange.
type StreamConfig struct {
	Exchange string        `yaml:"exchange"`
	DataType string        `yaml:"data_type"`
	Symbol   string        `yaml:"symbol"`
	Quote    string        `yaml:"quote"`
	Exclude  []string      `yaml:"exclude"`
	Period   string        `yaml:"period"`
	Limit    int           `yaml:"limit"`
	Interval time.Duration `yaml:"interval"`
	Target   string        `yaml:"target"`
	LocalIP  string        `yaml:"local_ip"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	Interval        time.Duration `yaml:"interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

func defaults() Config {
	return Config{
		Collector: CollectorConfig{
			DataDir:  "data",
			Interval: 20 * time.Second,
			Stagger: StaggerConfig{
				BatchSize: 5,
				Pause:     10 * time.Second,
			},
		},
		Reader: ReaderConfig{
			Timeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         1,
			},
			Retry: RetryConfig{
				BaseDelay:         time.Second,
				MaxDelay:          time.Minute,
				BackoffMultiplier: 2,
			},
		},
		Source: SourceConfig{
			Huobi:   ExchangeSourceConfig{URL: "https://api.huobi.pro"},
			Kucoin:  ExchangeSourceConfig{URL: "https://api.kucoin.com"},
			Binance: ExchangeSourceConfig{URL: "https://api.binance.com"},
		},
		Storage: StorageConfig{
			S3: S3Config{Interval: 10 * time.Minute},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("failed to read config file: %w", err))
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("failed to parse config file: %w", err))
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, errkind.Wrap(errkind.ErrConfiguration, fmt.Errorf("configuration validation failed: %w", err))
	}

	return &config, nil
}

// ResolvedStreams resolves the configured tuples into streams, filling defaults for
// interval, period and target.
func (c *Config) ResolvedStreams() []models.Stream {
	out := make([]models.Stream, 0, len(c.Streams))
	for _, sc := range c.Streams {
		out = append(out, c.resolveStream(sc))
	}
	return out
}

func (c *Config) resolveStream(sc StreamConfig) models.Stream {
	s := models.Stream{
		Exchange: strings.ToLower(strings.TrimSpace(sc.Exchange)),
		DataType: strings.ToLower(strings.TrimSpace(sc.DataType)),
		Symbol:   strings.TrimSpace(sc.Symbol),
		Quote:    strings.TrimSpace(sc.Quote),
		Period:   sc.Period,
		Limit:    sc.Limit,
		Interval: sc.Interval,
		Target:   sc.Target,
		LocalIP:  strings.TrimSpace(sc.LocalIP),
	}
	if s.Interval <= 0 {
		s.Interval = c.Collector.Interval
	}
	if s.DataType == models.DataTypeKlines && s.Period == "" {
		s.Period = "1min"
	}
	if s.IsWildcard() {
		s.Exclude = append(append([]string(nil), c.Collector.Exclude...), sc.Exclude...)
		// Each expanded stream gets its own default target.
		return s
	}
	if s.Target == "" {
		s.Target = models.DefaultTarget(c.Collector.DataDir, s.Exchange, s.DataType, s.Symbol, s.Period)
	} else if !filepath.IsAbs(s.Target) {
		s.Target = filepath.Join(c.Collector.DataDir, s.Target)
	}
	s.Target = filepath.Clean(s.Target)
	return s
}

// SourceFor returns the connection settings for an exchange.
func (c *Config) SourceFor(exchange string) ExchangeSourceConfig {
	switch exchange {
	case models.ExchangeHuobi:
		return c.Source.Huobi
	case models.ExchangeKucoin:
		return c.Source.Kucoin
	case models.ExchangeBinance:
		return c.Source.Binance
	}
	return ExchangeSourceConfig{}
}

var supportedDataTypes = map[string]bool{
	models.DataTypeTicker: true,
	models.DataTypeTrades: true,
	models.DataTypeKlines: true,
}

var supportedExchanges = map[string]bool{
	models.ExchangeHuobi:   true,
	models.ExchangeKucoin:  true,
	models.ExchangeBinance: true,
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Collector.DataDir == "" {
		return fmt.Errorf("collector.data_dir is required")
	}
	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than 0")
	}
	if cfg.Collector.Duration < 0 {
		return fmt.Errorf("collector.duration must not be negative")
	}
	if cfg.Collector.Stagger.BatchSize < 0 {
		return fmt.Errorf("collector.stagger.batch_size must not be negative")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Reader.Retry.BaseDelay <= 0 || cfg.Reader.Retry.MaxDelay < cfg.Reader.Retry.BaseDelay {
		return fmt.Errorf("reader.retry requires 0 < base_delay <= max_delay")
	}

	if len(cfg.Streams) == 0 {
		return fmt.Errorf("at least one stream is required")
	}
	for i, sc := range cfg.Streams {
		s := cfg.resolveStream(sc)
		if !supportedExchanges[s.Exchange] {
			return fmt.Errorf("streams[%d].exchange '%s' is not supported", i, sc.Exchange)
		}
		if !supportedDataTypes[s.DataType] {
			return fmt.Errorf("streams[%d].data_type '%s' is not supported", i, sc.DataType)
		}
		if s.Symbol == "" {
			return fmt.Errorf("streams[%d].symbol is required", i)
		}
		if s.IsWildcard() && strings.TrimSpace(sc.Target) != "" {
			return fmt.Errorf("streams[%d].target cannot be set for wildcard symbol", i)
		}
		if cfg.Storage.S3.Enabled && !s.IsWildcard() && !withinDir(cfg.Collector.DataDir, s.Target) {
			return fmt.Errorf("streams[%d].target '%s' is outside collector.data_dir and would not be archived", i, s.Target)
		}
	}
	if err := CheckDisjointTargets(cfg.ResolvedStreams()); err != nil {
		return err
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.Interval <= 0 {
			return fmt.Errorf("storage.s3.interval must be greater than 0")
		}
	}

	return nil
}

// CheckDisjointTargets fails when two streams would append to the same file.
// Unexpanded wildcard streams have no target yet and are skipped.
func CheckDisjointTargets(streams []models.Stream) error {
	seen := make(map[string]string, len(streams))
	for _, s := range streams {
		if s.IsWildcard() {
			continue
		}
		target := filepath.Clean(s.Target)
		if prev, ok := seen[target]; ok {
			return errkind.Wrap(errkind.ErrConfiguration,
				fmt.Errorf("streams %s and %s share target %s", prev, s.Name(), target))
		}
		seen[target] = s.Name()
	}
	return nil
}

// withinDir reports whether path lies under dir once both are made absolute.
func withinDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// Package ops holds the service configuration: a single typed structure
// loaded from the environment, validated once at startup.
package ops

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/yanun0323/errors"
)

const envPrefix = "watcher"

// Config enumerates every recognized option with documented defaults.
type Config struct {
	Database  DatabaseConfig
	API       APIConfig
	Feed      FeedConfig
	Universe  UniverseConfig
	Ingest    IngestConfig
	Detect    DetectConfig
	Retention RetentionConfig
	Pyroscope PyroscopeConfig
}

type DatabaseConfig struct {
	Host     string `default:"localhost"`
	Port     int    `default:"5432"`
	User     string `default:"watcher"`
	Password string
	Name     string `default:"watcher"`
	SSLMode  string `default:"disable" envconfig:"SSL_MODE"`
}

type APIConfig struct {
	Addr string `default:":8080"`
}

type FeedConfig struct {
	WsURL   string        `default:"wss://fstream.binance.com/ws" envconfig:"WS_URL"`
	RestURL string        `default:"https://fapi.binance.com" envconfig:"REST_URL"`
	Timeout time.Duration `default:"15s"`
}

type UniverseConfig struct {
	TopN            int           `default:"150" envconfig:"TOP_N"`
	MinQuoteVolume  float64       `default:"5000" envconfig:"MIN_QUOTE_VOLUME"`
	RefreshInterval time.Duration `default:"1h" envconfig:"REFRESH_INTERVAL"`
}

type IngestConfig struct {
	Interval        string        `default:"15m"`
	QueueSize       int           `default:"4096" envconfig:"QUEUE_SIZE"`
	BackfillRetries uint64        `default:"3" envconfig:"BACKFILL_RETRIES"`
	BackfillTimeout time.Duration `default:"30s" envconfig:"BACKFILL_TIMEOUT"`
}

type DetectConfig struct {
	WindowSize           int           `default:"16" envconfig:"WINDOW_SIZE"`
	PriceZThreshold      float64       `default:"2.5" envconfig:"PRICE_Z_THRESHOLD"`
	VolumeZThreshold     float64       `default:"2.0" envconfig:"VOLUME_Z_THRESHOLD"`
	VolatilityZThreshold float64       `default:"2.0" envconfig:"VOLATILITY_Z_THRESHOLD"`
	MinAbsReturn         float64       `default:"0.01" envconfig:"MIN_ABS_RETURN"`
	WeightPrice          float64       `default:"0.4" envconfig:"WEIGHT_PRICE"`
	WeightVolume         float64       `default:"0.3" envconfig:"WEIGHT_VOLUME"`
	WeightVolatility     float64       `default:"0.3" envconfig:"WEIGHT_VOLATILITY"`
	PassInterval         time.Duration `default:"1m" envconfig:"PASS_INTERVAL"`
	PersistAll           bool          `default:"false" envconfig:"PERSIST_ALL"`
}

type RetentionConfig struct {
	MaxAge           time.Duration `default:"24h" envconfig:"MAX_AGE"`
	MaxRowsPerSymbol int           `default:"10000" envconfig:"MAX_ROWS_PER_SYMBOL"`
	MaxTotalBytes    int64         `default:"104857600" envconfig:"MAX_TOTAL_BYTES"`
	SweepInterval    time.Duration `default:"1h" envconfig:"SWEEP_INTERVAL"`
}

type PyroscopeConfig struct {
	Addr string
}

// Load reads .env when present, maps the environment onto Config and
// validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, errors.Wrap(err, "process env")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// IntervalDuration parses the configured bar interval.
func (c IngestConfig) IntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, errors.Wrapf(err, "parse interval %q", c.Interval)
	}
	if d <= 0 {
		return 0, errors.Errorf("interval %q must be positive", c.Interval)
	}
	return d, nil
}

// Validate enforces option ranges and the cross-option retention safety
// invariant max_age > W * interval, so active windows are never starved
// by a sweep.
func (c Config) Validate() error {
	if c.Universe.TopN <= 0 {
		return errors.New("universe top-n must be positive")
	}
	if c.Ingest.QueueSize <= 0 {
		return errors.New("ingest queue size must be positive")
	}
	if c.Detect.WindowSize < 2 {
		return errors.New("detect window size must be at least 2")
	}
	if c.Detect.PriceZThreshold <= 0 || c.Detect.VolumeZThreshold <= 0 || c.Detect.VolatilityZThreshold <= 0 {
		return errors.New("z-score thresholds must be positive")
	}
	if c.Detect.MinAbsReturn < 0 {
		return errors.New("min abs return must not be negative")
	}
	if c.Detect.WeightPrice <= 0 || c.Detect.WeightVolume <= 0 || c.Detect.WeightVolatility <= 0 {
		return errors.New("dimension weights must be positive")
	}
	if c.Retention.SweepInterval <= 0 {
		return errors.New("retention sweep interval must be positive")
	}

	interval, err := c.Ingest.IntervalDuration()
	if err != nil {
		return err
	}
	if c.Retention.MaxAge <= time.Duration(c.Detect.WindowSize)*interval {
		return errors.Errorf(
			"retention max age %s must exceed window %d x interval %s",
			c.Retention.MaxAge, c.Detect.WindowSize, c.Ingest.Interval,
		)
	}
	return nil
}

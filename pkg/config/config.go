// Package config holds the tunable geometry and timing constants for the
// hash store: bucket size, extent size, the fingerprint block size used to
// seed the toxic-hash filter, and the flush/analyze cadence.
//
// Defaults mirror the representative values from the design: a 4096 byte
// bucket (256 cells), a 16 MiB extent, and a 15 minute analyze interval.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// Default geometry and timing values.
const (
	DefaultBucketSize            = 4096
	DefaultExtentSize            = 16 * 1024 * 1024
	DefaultSumBlockSize          = 4096
	DefaultFlushRateBytesPerSec  = 32 * 1024 * 1024
	DefaultAnalyzeInterval       = 15 * time.Minute
	DefaultStatsFileName         = "hashstore.stats"
	DefaultGeometrySidecarSuffix = ".meta"
)

// Config holds the tunables read at construction. The zero value is not
// usable; call New to get a Config populated with defaults.
type Config struct {
	BucketSize            int64
	ExtentSize            int64
	SumBlockSize          int64
	FlushRateBytesPerSec  int64
	AnalyzeInterval       time.Duration
	StatsFileName         string
	GeometrySidecarSuffix string
}

// Option configures a Config, in the style of streamhash's BuildOption.
type Option func(*Config)

// WithBucketSize overrides the bucket byte size (must be a power of two).
func WithBucketSize(n int64) Option { return func(c *Config) { c.BucketSize = n } }

// WithExtentSize overrides the extent byte size (must be a multiple of BucketSize).
func WithExtentSize(n int64) Option { return func(c *Config) { c.ExtentSize = n } }

// WithSumBlockSize overrides the fingerprint block size used for the toxic-hash seed.
func WithSumBlockSize(n int64) Option { return func(c *Config) { c.SumBlockSize = n } }

// WithFlushRate overrides the shared token-bucket refill rate, in bytes/second.
func WithFlushRate(bytesPerSec int64) Option {
	return func(c *Config) { c.FlushRateBytesPerSec = bytesPerSec }
}

// WithAnalyzeInterval overrides the periodic re-scan cadence.
func WithAnalyzeInterval(d time.Duration) Option {
	return func(c *Config) { c.AnalyzeInterval = d }
}

// WithStatsFileName overrides the name of the periodic-statistics blob file.
func WithStatsFileName(name string) Option { return func(c *Config) { c.StatsFileName = name } }

// New returns a Config populated with defaults, then applies opts in order.
func New(opts ...Option) Config {
	c := Config{
		BucketSize:            DefaultBucketSize,
		ExtentSize:            DefaultExtentSize,
		SumBlockSize:          DefaultSumBlockSize,
		FlushRateBytesPerSec:  DefaultFlushRateBytesPerSec,
		AnalyzeInterval:       DefaultAnalyzeInterval,
		StatsFileName:         DefaultStatsFileName,
		GeometrySidecarSuffix: DefaultGeometrySidecarSuffix,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// fileConfig is the JSON-with-comments shape accepted by Load. Fields are
// optional; anything left zero falls back to the New() default.
type fileConfig struct {
	BucketSize           int64  `json:"bucketSize,omitempty"`
	ExtentSize           int64  `json:"extentSize,omitempty"`
	SumBlockSize         int64  `json:"sumBlockSize,omitempty"`
	FlushRateBytesPerSec int64  `json:"flushRateBytesPerSec,omitempty"`
	AnalyzeIntervalSecs  int64  `json:"analyzeIntervalSeconds,omitempty"`
	StatsFileName        string `json:"statsFileName,omitempty"`
}

// Load reads a JSON-with-comments config file (// and /* */ comments and
// trailing commas are tolerated) and returns a Config with any present
// fields overriding the defaults. A missing file is not an error; New()'s
// defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := New()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, err
	}
	var fc fileConfig
	if err := json.Unmarshal(std, &fc); err != nil {
		return Config{}, err
	}
	if fc.BucketSize != 0 {
		cfg.BucketSize = fc.BucketSize
	}
	if fc.ExtentSize != 0 {
		cfg.ExtentSize = fc.ExtentSize
	}
	if fc.SumBlockSize != 0 {
		cfg.SumBlockSize = fc.SumBlockSize
	}
	if fc.FlushRateBytesPerSec != 0 {
		cfg.FlushRateBytesPerSec = fc.FlushRateBytesPerSec
	}
	if fc.AnalyzeIntervalSecs != 0 {
		cfg.AnalyzeInterval = time.Duration(fc.AnalyzeIntervalSecs) * time.Second
	}
	if fc.StatsFileName != "" {
		cfg.StatsFileName = fc.StatsFileName
	}
	return cfg, nil
}

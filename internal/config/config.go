package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// EngineDir holds one sub-directory per compiled engine; Engine picks one.
	EngineDir string `json:"engine_dir" yaml:"engine_dir" toml:"engine_dir"`
	Engine    string `json:"engine" yaml:"engine" toml:"engine"`
	Backend   string `json:"backend" yaml:"backend" toml:"backend"`

	MaxNumRequests          int `json:"max_num_requests" yaml:"max_num_requests" toml:"max_num_requests"`
	MaxBeamWidth            int `json:"max_beam_width" yaml:"max_beam_width" toml:"max_beam_width"`
	MaxSeqLen               int `json:"max_seq_len" yaml:"max_seq_len" toml:"max_seq_len"`
	VocabSize               int `json:"vocab_size" yaml:"vocab_size" toml:"vocab_size"`
	MaxTokensInPagedKVCache int `json:"max_tokens_in_paged_kv_cache" yaml:"max_tokens_in_paged_kv_cache" toml:"max_tokens_in_paged_kv_cache"`
	KVBlockSize             int `json:"kv_block_size" yaml:"kv_block_size" toml:"kv_block_size"`

	IdlePoll     Duration `json:"idle_poll" yaml:"idle_poll" toml:"idle_poll"`
	DrainTimeout Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	MaxQueueDepth   int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait         Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	GenerateTimeout Duration `json:"generate_timeout" yaml:"generate_timeout" toml:"generate_timeout"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	HTTPLogLevel string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level"`

	CORS  CORSConfig  `json:"cors" yaml:"cors" toml:"cors"`
	Redis RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// CORSConfig enables the CORS middleware of the HTTP frontend.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// RedisConfig adds a Redis list as a second request source. Empty Addr disables it.
type RedisConfig struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	Password     string   `json:"password" yaml:"password" toml:"password"`
	DB           int      `json:"db" yaml:"db" toml:"db"`
	QueueKey     string   `json:"queue_key" yaml:"queue_key" toml:"queue_key"`
	ResultPrefix string   `json:"result_prefix" yaml:"result_prefix" toml:"result_prefix"`
	ResultTTL    Duration `json:"result_ttl" yaml:"result_ttl" toml:"result_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unspecified field.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Backend == "" {
		c.Backend = "sim"
	}
	if c.MaxNumRequests == 0 {
		c.MaxNumRequests = 64
	}
	if c.MaxBeamWidth == 0 {
		c.MaxBeamWidth = 1
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = 2048
	}
	if c.KVBlockSize == 0 {
		c.KVBlockSize = 64
	}
	if c.IdlePoll == 0 {
		c.IdlePoll = Duration(5 * time.Millisecond)
	}
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = 256
	}
	if c.MaxWait == 0 {
		c.MaxWait = Duration(30 * time.Second)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.CORS.Enabled {
		if len(c.CORS.Methods) == 0 {
			c.CORS.Methods = []string{"GET", "POST", "OPTIONS"}
		}
		if len(c.CORS.Headers) == 0 {
			c.CORS.Headers = []string{"Content-Type", "X-Log-Level"}
		}
	}
	if c.Redis.Addr != "" && c.Redis.ResultTTL == 0 {
		c.Redis.ResultTTL = Duration(10 * time.Minute)
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	positive("max_num_requests", c.MaxNumRequests)
	positive("max_beam_width", c.MaxBeamWidth)
	positive("max_seq_len", c.MaxSeqLen)
	positive("kv_block_size", c.KVBlockSize)
	positive("max_queue_depth", c.MaxQueueDepth)
	if c.VocabSize < 0 {
		errs = append(errs, fmt.Errorf("vocab_size must be >= 0, got %d", c.VocabSize))
	}
	if c.MaxTokensInPagedKVCache < 0 {
		errs = append(errs, fmt.Errorf("max_tokens_in_paged_kv_cache must be >= 0, got %d", c.MaxTokensInPagedKVCache))
	}
	for name, d := range map[string]Duration{
		"idle_poll": c.IdlePoll, "drain_timeout": c.DrainTimeout, "max_wait": c.MaxWait,
		"generate_timeout": c.GenerateTimeout, "redis.result_ttl": c.Redis.ResultTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %s", name, d))
		}
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if c.Engine != "" && c.EngineDir == "" {
		errs = append(errs, errors.New("engine requires engine_dir"))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string ("250ms", "1m")
// in every config format.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

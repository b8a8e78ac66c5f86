package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/luma/rudis/protocol"
	"github.com/luma/rudis/transport"
)

// Config is loaded from, in increasing order of precedence, the defaults,
// an optional TOML file, .env.local and the environment.
type Config struct {
	Region    string `toml:"region" env:"RUDIS_REGION,overwrite"`
	DebugHTTP bool   `toml:"debug_http" env:"RUDIS_DEBUG_HTTP,overwrite"`
	LogLevel  string `toml:"log_level" env:"RUDIS_LOG_LEVEL,overwrite"`

	NumListeners int           `toml:"num_listeners" env:"RUDIS_NUM_LISTENERS,overwrite"`
	Reuseport    bool          `toml:"reuseport" env:"RUDIS_REUSEPORT,overwrite"`
	IdleTimeout  time.Duration `toml:"idle_timeout" env:"RUDIS_IDLE_TIMEOUT,overwrite"`

	MaxBufferSize      int   `toml:"max_buffer_size" env:"RUDIS_MAX_BUFFER_SIZE,overwrite"`
	MaxBulkLength      int64 `toml:"max_bulk_length" env:"RUDIS_MAX_BULK_LENGTH,overwrite"`
	MaxAggregateLength int64 `toml:"max_aggregate_length" env:"RUDIS_MAX_AGGREGATE_LENGTH,overwrite"`
	MaxLineLength      int   `toml:"max_line_length" env:"RUDIS_MAX_LINE_LENGTH,overwrite"`
	MaxDepth           int   `toml:"max_depth" env:"RUDIS_MAX_DEPTH,overwrite"`
}

func DefaultConfig() *Config {
	limits := protocol.DefaultLimits()

	return &Config{
		LogLevel:           "info",
		Reuseport:          true,
		MaxBufferSize:      transport.DefaultMaxBufferSize,
		MaxBulkLength:      limits.MaxBulkLength,
		MaxAggregateLength: limits.MaxAggregateLength,
		MaxLineLength:      limits.MaxLineLength,
		MaxDepth:           limits.MaxDepth,
	}
}

// LoadConfig loads the config using the process environment. path may be
// empty when there is no config file.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env.local: %w", err)
	}

	return LoadConfigWith(ctx, path, envconfig.OsLookuper())
}

// LoadConfigWith loads the config reading environment variables from
// lookuper. It does not read .env.local.
func LoadConfigWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		md, err := toml.DecodeFile(path, config)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			sort.Strings(keys)

			return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   config,
		Lookuper: lookuper,
	}); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if c.NumListeners < 0 {
		return errors.New("number of listeners cannot be negative")
	}

	if c.MaxBulkLength < 0 || c.MaxAggregateLength < 0 || c.MaxLineLength < 0 || c.MaxDepth < 0 || c.MaxBufferSize < 0 {
		return errors.New("limits cannot be negative")
	}

	// Zero falls back to the defaults, so compare what will be enforced
	bufferSize := c.MaxBufferSize
	if bufferSize == 0 {
		bufferSize = transport.DefaultMaxBufferSize
	}

	if bulkLength := c.Limits().MaxBulkLength; bulkLength > int64(bufferSize) {
		return fmt.Errorf("max bulk length %d does not fit in the max buffer size %d",
			bulkLength, bufferSize)
	}

	return nil
}

// Limits returns the decoder limits, with zero values replaced by the
// protocol defaults.
func (c *Config) Limits() protocol.Limits {
	return protocol.NewDecoder(protocol.Limits{
		MaxBulkLength:      c.MaxBulkLength,
		MaxAggregateLength: c.MaxAggregateLength,
		MaxLineLength:      c.MaxLineLength,
		MaxDepth:           c.MaxDepth,
	}).Limits()
}

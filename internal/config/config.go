// Package config loads tabstate settings from defaults, an optional YAML
// file, TABSTATE_* environment variables and command-line flags, in
// increasing order of precedence, and validates the result against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every schema violation.
var ErrInvalid = errors.New("invalid configuration")

//go:embed schema.cue
var schemaSource string

// Config holds application configuration.
type Config struct {
	Store StoreConfig `json:"store" mapstructure:"store"`
	Codec string      `json:"codec" mapstructure:"codec"`
	Sync  SyncConfig  `json:"sync" mapstructure:"sync"`
	Relay RelayConfig `json:"relay" mapstructure:"relay"`
	Log   LogConfig   `json:"log" mapstructure:"log"`
}

// StoreConfig selects the durable backend. Path applies to sqlite; Bucket,
// Prefix, Region and Endpoint apply to s3.
type StoreConfig struct {
	Backend  string `json:"backend" mapstructure:"backend"`
	Path     string `json:"path" mapstructure:"path"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
	Region   string `json:"region" mapstructure:"region"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// SyncConfig controls cross-tab broadcast.
type SyncConfig struct {
	Tabs  bool   `json:"tabs" mapstructure:"tabs"`
	Relay string `json:"relay" mapstructure:"relay"`
}

// RelayConfig configures the relay server.
type RelayConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"db":        "store.path",
	"backend":   "store.backend",
	"bucket":    "store.bucket",
	"codec":     "codec",
	"sync-tabs": "sync.tabs",
	"relay":     "sync.relay",
	"addr":      "relay.addr",
	"log-level": "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "tabstate.db")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.prefix", "tabstate/")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("codec", "json")
	v.SetDefault("sync.tabs", false)
	v.SetDefault("sync.relay", "")
	v.SetDefault("relay.addr", ":8787")
	v.SetDefault("log.level", "info")
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration. path names a YAML file; when empty,
// TABSTATE_CONFIG is consulted, and without either only defaults, env and
// flags apply. Flags in flags that are listed in flagKeys are bound; flags
// may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv("TABSTATE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("TABSTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c against the embedded schema.
func Validate(c Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

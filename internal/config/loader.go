package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = "WDD_CONFIG"

const envPrefix = "WDD_"

// Load builds a Config by layering defaults, optional file, env vars and
// flags. Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if WDD_CONFIG is set
//  3. env (prefix WDD_)
//  4. flags from fs that were set on the command line (fs may be nil)
func Load(_ context.Context, fs *pflag.FlagSet) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// WDD_COMB_PORT -> comb_port; keys stay flat.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(envPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	if fs != nil {
		if err := applyFlags(k, fs); err != nil {
			return nil, err
		}
	}

	if err := splitList(k, "use_soundboard"); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFlags copies explicitly set flags into k. Flag names use dashes,
// config keys underscores.
func applyFlags(k *koanf.Koanf, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		switch f.Value.Type() {
		case "intSlice":
			var v []int
			if v, err = fs.GetIntSlice(f.Name); err == nil {
				err = k.Set(key, v)
			}
		default:
			err = k.Set(key, f.Value.String())
		}
	})
	if err != nil {
		return fmt.Errorf("%w: flags: %w", ErrLoadConfig, err)
	}
	return nil
}

// splitList turns a comma separated string (as set through the environment)
// into a list of ints.
func splitList(k *koanf.Koanf, key string) error {
	s, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
		out = append(out, n)
	}
	return k.Set(key, out)
}

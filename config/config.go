// Package config reads romkit settings from ROMKIT_* environment
// variables and turns them into a logger and session options.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/session"
	"github.com/wippyai/romkit/textcodec"
	"github.com/wippyai/romkit/textcodec/wasmcodec"
)

// Prefix is prepended to every variable name.
const Prefix = "ROMKIT_"

// Text codec names. Any other value is read as the path of a wasm plugin.
const (
	CodecUTF16 = "utf16"
	CodecASCII = "ascii"
)

// Config holds the process-wide settings.
type Config struct {
	Layout    string `env:"LAYOUT" envDefault:"layout.json"`
	PatchDir  string `env:"PATCH_DIR"`
	TextCodec string `env:"TEXT_CODEC" envDefault:"utf16"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Alignment overrides the build's allocation alignment. 0 keeps it.
	Alignment int `env:"ALIGNMENT" envDefault:"0"`
	// ExtendStep is the minimum growth of the executable when a patch
	// runs out of space.
	ExtendStep int `env:"EXTEND_STEP" envDefault:"0"`
	// PluginPages caps the memory of a wasm text codec, in 64KiB pages.
	PluginPages uint32 `env:"PLUGIN_PAGES" envDefault:"16"`
}

// Load parses the process environment.
func Load() (*Config, error) {
	return Parse(envMap(os.Environ()))
}

// Parse parses environ, a map of variable names to values.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: Prefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "parse environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if a := c.Alignment; a < 0 || a&(a-1) != 0 {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).Path(Prefix + "ALIGNMENT").
			Value(a).Detail("alignment must be a power of two").Build()
	}
	if c.ExtendStep < 0 {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).Path(Prefix + "EXTEND_STEP").
			Value(c.ExtendStep).Detail("extension step is negative").Build()
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).Path(Prefix + "LOG_FORMAT").
			Value(c.LogFormat).Detail("log format must be console or json").Build()
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, Prefix+"LOG_LEVEL")
	}
	return nil
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Logger builds a zap logger at the configured level. The console format
// uses zap's development encoder.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// Catalog reads the layout catalog.
func (c *Config) Catalog() (*layout.Catalog, error) {
	dir, name := filepath.Split(c.Layout)
	if dir == "" {
		dir = "."
	}
	return layout.LoadFile(os.DirFS(dir), name)
}

// Codec returns the configured text codec. The returned close function
// releases plugin resources and is never nil.
func (c *Config) Codec(ctx context.Context) (textcodec.Codec, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(c.TextCodec) {
	case CodecUTF16, "":
		return textcodec.NewUTF16(), nop, nil
	case CodecASCII:
		return textcodec.ASCII{}, nop, nil
	}
	wasm, err := os.ReadFile(c.TextCodec)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err,
			fmt.Sprintf("text codec plugin %s", c.TextCodec))
	}
	plugin, err := wasmcodec.New(ctx, wasm, &wasmcodec.Config{MemoryLimitPages: c.PluginPages})
	if err != nil {
		return nil, nil, err
	}
	return plugin, func() error { return plugin.Close(ctx) }, nil
}

// SessionOptions returns the session options the settings imply. codec
// may be nil to keep the session default.
func (c *Config) SessionOptions(codec textcodec.Codec) []session.Option {
	var opts []session.Option
	if codec != nil {
		opts = append(opts, session.WithTextCodec(codec))
	}
	if c.PatchDir != "" {
		opts = append(opts, session.WithPatchFS(os.DirFS(c.PatchDir)))
	}
	if c.Alignment > 0 {
		opts = append(opts, session.WithAlignment(c.Alignment))
	}
	if c.ExtendStep > 0 {
		opts = append(opts, session.WithExtendStep(c.ExtendStep))
	}
	return opts
}

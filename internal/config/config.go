// Package config loads tapestore settings from a YAML file and checks them
// against an embedded CUE schema.
//
// Example file:
//
//	data_dir: /var/lib/tapestore
//	namespace: tw
//	db_name: orders
//	busy_timeout: 2s
//	synchronous: FULL
//	telemetry: true
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tapestore/internal/schema"
)

//go:embed schema.cue
var schemaSource string

// Config holds every setting of a tapestore process.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	Namespace   string        `yaml:"namespace"`
	DBName      string        `yaml:"db_name"`
	Partition   string        `yaml:"partition"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"`
	Telemetry   bool          `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:     "./data",
		Namespace:   schema.DefaultNamespace,
		DBName:      schema.DefaultDBName,
		BusyTimeout: 5 * time.Second,
		Synchronous: "NORMAL",
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := cfg.decode(f); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads YAML from data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ValidationError reports the first setting that violates the schema.
type ValidationError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// values is the shape checked against #Config.
type values struct {
	DataDir       string `json:"data_dir"`
	Namespace     string `json:"namespace"`
	DBName        string `json:"db_name"`
	Partition     string `json:"partition"`
	BusyTimeoutMS int64  `json:"busy_timeout_ms"`
	Synchronous   string `json:"synchronous"`
	Telemetry     bool   `json:"telemetry"`
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := ctx.Encode(values{
		DataDir:       c.DataDir,
		Namespace:     c.Namespace,
		DBName:        c.DBName,
		Partition:     c.Partition,
		BusyTimeoutMS: c.BusyTimeout.Milliseconds(),
		Synchronous:   c.Synchronous,
		Telemetry:     c.Telemetry,
	})
	return formatCUEError(def.Unify(v).Validate(cue.Concrete(true)))
}

// formatCUEError converts the first CUE error into a *ValidationError.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	// Settings are flat, so the last path element names the field.
	field := "config"
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	format, args := first.Msg()
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Pos:     first.Position(),
	}
}

// SchemaOptions returns the options for opening partition databases.
func (c Config) SchemaOptions(logger *slog.Logger) schema.Options {
	return schema.Options{
		DataDir:     c.DataDir,
		Namespace:   c.Namespace,
		DBName:      c.DBName,
		BusyTimeout: c.BusyTimeout,
		Synchronous: c.Synchronous,
		Logger:      logger,
	}
}

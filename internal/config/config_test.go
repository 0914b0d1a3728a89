package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "tw", cfg.Namespace)
	assert.Equal(t, "default", cfg.DBName)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, "NORMAL", cfg.Synchronous)
	assert.False(t, cfg.Telemetry)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tapestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/tapestore
db_name: orders
busy_timeout: 250ms
synchronous: FULL
telemetry: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		DataDir:     "/var/lib/tapestore",
		Namespace:   "tw",
		DBName:      "orders",
		BusyTimeout: 250 * time.Millisecond,
		Synchronous: "FULL",
		Telemetry:   true,
	}, cfg)

	opts := cfg.SchemaOptions(nil)
	assert.Equal(t, filepath.Join("/var/lib/tapestore", "tw_orders_master.db"), opts.Path("master"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("data_dri: ./typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dri")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad synchronous", "synchronous: SOMETIMES\n", "synchronous"},
		{"empty data dir", "data_dir: \"\"\n", "data_dir"},
		{"namespace with separator", "namespace: a/b\n", "namespace"},
		{"db name with separator", "db_name: ../x\n", "db_name"},
		{"partition with separator", "partition: a/b\n", "partition"},
		{"negative busy timeout", "busy_timeout: -1s\n", "busy_timeout_ms"},
		{"busy timeout too long", "busy_timeout: 1h\n", "busy_timeout_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ve.Field)
			assert.NotEmpty(t, ve.Message)
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "synchronous", Message: "invalid value"}
	assert.Equal(t, "synchronous: invalid value", err.Error())
}

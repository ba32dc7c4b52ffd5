package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/plugkit/kernel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_DEFAULTS").Load()
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.DropConflicting, cfg.Extensions.ConflictPolicy)
	assert.Equal(t, 100, cfg.Container.MaxResolutionDepth)
}

func TestLoader_File(t *testing.T) {
	path := writeFile(t, "kernel.yaml", `
name: ide
logging:
  level: debug
  format: console
container:
  maxResolutionDepth: 12
extensions:
  conflictPolicy: declaration-order
metrics:
  enabled: false
`)

	cfg, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_FILE").WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "ide", cfg.Name)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 12, cfg.Container.MaxResolutionDepth)
	assert.Equal(t, config.DeclarationOrder, cfg.Extensions.ConflictPolicy)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "kernel.yaml", "logging:\n  level: info\n")

	t.Setenv("KERNEL_LOGGING_LEVEL", "warn")
	t.Setenv("KERNEL_CONTAINER_MAX_RESOLUTION_DEPTH", "7")
	t.Setenv("KERNEL_EXTENSIONS_CONFLICT_POLICY", "declaration-order")
	t.Setenv("KERNEL_METRICS_ENABLED", "off")

	cfg, err := config.NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Container.MaxResolutionDepth)
	assert.Equal(t, config.DeclarationOrder, cfg.Extensions.ConflictPolicy)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoader_EnvFiles(t *testing.T) {
	envFile := writeFile(t, ".env", "KERNEL_TEST_DOTENV_NAME=from-dotenv\nKERNEL_TEST_DOTENV_LOGGING_LEVEL=error\n")
	t.Cleanup(func() {
		os.Unsetenv("KERNEL_TEST_DOTENV_NAME")
		os.Unsetenv("KERNEL_TEST_DOTENV_LOGGING_LEVEL")
	})

	cfg, err := config.NewLoader().
		WithEnvPrefix("KERNEL_TEST_DOTENV").
		WithEnvFiles(envFile, filepath.Join(t.TempDir(), "missing.env")).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Name)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoader_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		path := writeFile(t, "kernel.yaml", "logging: [")
		_, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_BAD").WithConfigFile(path).Load()
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_BAD").WithConfigFile("/nonexistent/kernel.yaml").Load()
		assert.Error(t, err)
	})

	t.Run("unknown policy", func(t *testing.T) {
		path := writeFile(t, "kernel.yaml", "extensions:\n  conflictPolicy: shuffle\n")
		_, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_BAD").WithConfigFile(path).Load()
		assert.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		path := writeFile(t, "kernel.yaml", "logging:\n  level: loud\ncontainer:\n  maxResolutionDepth: -1\n")
		_, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_BAD").WithConfigFile(path).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
		assert.Contains(t, err.Error(), "maxResolutionDepth")
	})
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Name = "saved"
	cfg.Extensions.ConflictPolicy = config.DeclarationOrder

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conflictPolicy: declaration-order")

	loaded, err := config.NewLoader().WithEnvPrefix("KERNEL_TEST_SAVE").WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConflictPolicy_Encoding(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(config.DeclarationOrder)
	require.NoError(t, err)
	assert.Equal(t, `"declaration-order"`, string(data))

	var p config.ConflictPolicy
	require.NoError(t, json.Unmarshal([]byte(`"drop"`), &p))
	assert.Equal(t, config.DropConflicting, p)

	var holder struct {
		Policy config.ConflictPolicy `yaml:"policy"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("policy: declaration\n"), &holder))
	assert.Equal(t, config.DeclarationOrder, holder.Policy)

	assert.False(t, config.ConflictPolicy(9).IsValid())
	assert.Equal(t, "Unknown(9)", config.ConflictPolicy(9).String())
}

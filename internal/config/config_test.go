package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules/ruleset"
)

func env(vars map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, int64(104857600), cfg.Upload.MaxFileSize)
	assert.Equal(t, 4, cfg.Upload.MaxConcurrent)
	assert.Equal(t, "2024", cfg.Validation.DefaultRuleset)
	assert.Equal(t, 30*time.Second, cfg.Validation.RuleTimeout)
	assert.Empty(t, cfg.Validation.PostcodesPath)
	assert.False(t, cfg.Export.Enabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Spans)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"SERVER_PORT":                "9090",
		"UPLOAD_MAX_CONCURRENT":      "10",
		"VALIDATION_DEFAULT_RULESET": "2023",
		"VALIDATION_RULE_TIMEOUT":    "2m",
		"LOG_LEVEL":                  "debug",
		"LOG_SPANS":                  "true",
		"API_KEYS":                   " a, b ,,c ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Upload.MaxConcurrent)
	assert.Equal(t, "2023", cfg.Validation.DefaultRuleset)
	assert.Equal(t, 2*time.Minute, cfg.Validation.RuleTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Spans)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Security.APIKeys)
}

func TestLoad_AltEnvVar(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"DATABASE_URL": "postgres://localhost/results"}))
	require.NoError(t, err)
	assert.True(t, cfg.Export.Enabled())
	assert.Equal(t, "postgres://localhost/results", cfg.Export.DatabaseURL)

	cfg, err = LoadFrom(env(map[string]string{
		"DATABASE_URL":        "postgres://localhost/other",
		"EXPORT_DATABASE_URL": "postgres://localhost/primary",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/primary", cfg.Export.DatabaseURL)
}

func TestLoad_InvalidValue(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{"SERVER_PORT": "eighty"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")

	_, err = LoadFrom(env(map[string]string{"VALIDATION_RULE_TIMEOUT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_CollectsAll(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{
		"SERVER_PORT":                "70000",
		"UPLOAD_MAX_CONCURRENT":      "0",
		"VALIDATION_DEFAULT_RULESET": "1999",
		"REQUIRE_API_KEY":            "true",
		"LOG_FORMAT":                 "xml",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"SERVER_PORT", "UPLOAD_MAX_CONCURRENT", "VALIDATION_DEFAULT_RULESET", "API_KEYS", "LOG_FORMAT",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestString_MasksDatabaseURL(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"EXPORT_DATABASE_URL": "postgres://user:secret@db/results"}))
	require.NoError(t, err)

	s := cfg.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "[MASKED]")
	assert.Contains(t, s, `DefaultRuleset: "2024"`)
}

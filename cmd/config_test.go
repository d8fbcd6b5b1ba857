package cmd

import (
	"testing"
	"time"

	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := DefaultConfig()
	c.FHIR.BaseURL = "https://example.com/fhir"
	return c
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})
	t.Run("FHIR server URL not configured", func(t *testing.T) {
		c := validConfig()
		c.FHIR.BaseURL = ""
		require.EqualError(t, c.Validate(), "FHIR server URL is not configured")
	})
	t.Run("invalid auth type", func(t *testing.T) {
		c := validConfig()
		c.FHIR.Auth.Type = "basic"
		require.EqualError(t, c.Validate(), "invalid FHIR authentication type: basic")
	})
	t.Run("bearer without token", func(t *testing.T) {
		c := validConfig()
		c.FHIR.Auth.Type = coolfhir.BearerToken
		require.EqualError(t, c.Validate(), "FHIR authentication type bearer requires a token")
	})
	t.Run("negative rate limit", func(t *testing.T) {
		c := validConfig()
		c.FHIR.RateLimit = -1
		require.EqualError(t, c.Validate(), "FHIR rate limit must not be negative")
	})
	t.Run("invalid version constraint", func(t *testing.T) {
		c := validConfig()
		c.FHIR.Version = "four"
		require.ErrorContains(t, c.Validate(), "invalid FHIR version constraint")
	})
	t.Run("tag code contains separator", func(t *testing.T) {
		c := validConfig()
		c.Tag.Code = "a|b"
		require.EqualError(t, c.Validate(), "invalid tag: tag code must not contain '|': a|b")
	})
	t.Run("page size", func(t *testing.T) {
		c := validConfig()
		c.PageSize = 0
		require.EqualError(t, c.Validate(), "page size must be greater than 0, got 0")
	})
	t.Run("nothing to do", func(t *testing.T) {
		c := validConfig()
		c.Load = false
		require.EqualError(t, c.Validate(), "nothing to do: loading is disabled and delete is not requested")
	})
	t.Run("unknown resource type", func(t *testing.T) {
		c := validConfig()
		c.ResourceTypes = []string{"Location", "Patient"}
		require.EqualError(t, c.Validate(), "unknown resource type: Patient (supported: Organization, Location, Group, Measure, MeasureReport)")
	})
	t.Run("resource types aren't checked when only deleting", func(t *testing.T) {
		c := validConfig()
		c.Load = false
		c.Delete = true
		c.ResourceTypes = []string{"Patient"}
		require.NoError(t, c.Validate())
	})
	t.Run("invalid OpenTelemetry configuration", func(t *testing.T) {
		c := validConfig()
		c.OpenTelemetry.Enabled = true
		c.OpenTelemetry.Exporter.Type = "zipkin"
		require.EqualError(t, c.Validate(), "invalid OpenTelemetry configuration: unsupported exporter type: zipkin (supported: otlp, stdout, none)")
	})
}

func TestConfig_RequestedResourceTypes(t *testing.T) {
	c := validConfig()
	require.Equal(t, []string{"Organization", "Location", "Group", "Measure", "MeasureReport"}, c.RequestedResourceTypes())

	c.ResourceTypes = []string{"Location"}
	require.Equal(t, []string{"Location"}, c.RequestedResourceTypes())
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config, err := LoadConfig(nil)
		require.NoError(t, err)
		require.Equal(t, DefaultConfig(), *config)
	})
	t.Run("environment", func(t *testing.T) {
		t.Setenv("FHIRLOADER_FHIR_URL", "https://example.com/fhir")
		t.Setenv("FHIRLOADER_FHIR_TIMEOUT", "30s")
		t.Setenv("FHIRLOADER_FHIR_AUTH_TYPE", "azure-cli")
		t.Setenv("FHIRLOADER_DATA_DIR", "/data")
		t.Setenv("FHIRLOADER_RESOURCETYPES", "Location, Group")
		t.Setenv("FHIRLOADER_DELETE", "true")
		t.Setenv("FHIRLOADER_TAG_CODE", "nightly")
		t.Setenv("FHIRLOADER_PAGESIZE", "250")
		t.Setenv("FHIRLOADER_LOGLEVEL", "debug")
		t.Setenv("FHIRLOADER_OPENTELEMETRY_SERVICENAME", "loader")

		config, err := LoadConfig(nil)

		require.NoError(t, err)
		require.Equal(t, "https://example.com/fhir", config.FHIR.BaseURL)
		require.Equal(t, 30*time.Second, config.FHIR.Timeout)
		require.Equal(t, coolfhir.AzureCLI, config.FHIR.Auth.Type)
		require.Equal(t, "/data", config.Data.Dir)
		require.Equal(t, []string{"Location", "Group"}, config.ResourceTypes)
		require.True(t, config.Delete)
		require.True(t, config.Load)
		require.Equal(t, "nightly", config.Tag.Code)
		require.Equal(t, coolfhir.DefaultTagSystem, config.Tag.System)
		require.Equal(t, 250, config.PageSize)
		require.Equal(t, zerolog.DebugLevel, config.LogLevel)
		require.Equal(t, "loader", config.OpenTelemetry.ServiceName)
	})
	t.Run("flags take precedence over environment", func(t *testing.T) {
		t.Setenv("FHIRLOADER_FHIR_URL", "https://example.com/fhir")
		t.Setenv("FHIRLOADER_TAG_CODE", "nightly")
		t.Setenv("FHIRLOADER_PAGESIZE", "250")
		flags := NewRootCommand().Flags()
		require.NoError(t, flags.Parse([]string{
			"--server-url", "http://localhost:8080/fhir",
			"--tag-code", "manual",
			"--resource-type", "Location",
			"--resource-type", "Group",
			"--strict",
		}))

		config, err := LoadConfig(flags)

		require.NoError(t, err)
		require.Equal(t, "http://localhost:8080/fhir", config.FHIR.BaseURL)
		require.Equal(t, "manual", config.Tag.Code)
		require.Equal(t, []string{"Location", "Group"}, config.ResourceTypes)
		require.True(t, config.StrictMode)
		// not set on the command line
		require.Equal(t, 250, config.PageSize)
		require.Equal(t, coolfhir.DefaultTagSystem, config.Tag.System)
	})
	t.Run("delete only", func(t *testing.T) {
		flags := NewRootCommand().Flags()
		require.NoError(t, flags.Parse([]string{"--delete-all", "--no-load", "--page-size", "10", "--log-level", "warn"}))

		config, err := LoadConfig(flags)

		require.NoError(t, err)
		require.True(t, config.Delete)
		require.False(t, config.Load)
		require.Equal(t, 10, config.PageSize)
		require.Equal(t, zerolog.WarnLevel, config.LogLevel)
	})
}

func Test_splitWithEscaping(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitWithEscaping("a,b", ",", "\\"))
	require.Equal(t, []string{"a,b", "c"}, splitWithEscaping("a\\,b,c", ",", "\\"))
	require.Equal(t, []string{"a"}, splitWithEscaping("a", ",", "\\"))
}

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/SanteonNL/fhirloader/catalog"
	"github.com/SanteonNL/fhirloader/fhirsync"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/otel"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const envPrefix = "FHIRLOADER_"

type Config struct {
	// FHIR holds the configuration for connecting to the FHIR server.
	FHIR coolfhir.ClientConfig `koanf:"fhir"`
	// Data holds the location of the data files to load.
	Data DataConfig `koanf:"data"`
	// ResourceTypes limits loading to files containing only these resource types. Empty means all resource types.
	ResourceTypes []string `koanf:"resourcetypes"`
	// Delete removes all tagged resources from the FHIR server before loading.
	Delete bool `koanf:"delete"`
	// Load uploads the data files. Disable it together with Delete to only clean up the FHIR server.
	Load bool `koanf:"load"`
	// Tag is added to every uploaded resource, and used to find resources to delete.
	Tag      coolfhir.Tag  `koanf:"tag"`
	PageSize int           `koanf:"pagesize"`
	LogLevel zerolog.Level `koanf:"loglevel"`
	// StrictMode makes the run fail when any file, batch or entry failed.
	StrictMode bool `koanf:"strictmode"`
	// OpenTelemetry holds the configuration for observability
	OpenTelemetry otel.Config `koanf:"opentelemetry"`
}

type DataConfig struct {
	// Dir is the root directory of the data files.
	Dir string `koanf:"dir"`
}

func (c Config) Validate() error {
	if c.FHIR.BaseURL == "" {
		return errors.New("FHIR server URL is not configured")
	}
	if _, err := c.FHIR.ParseURL(); err != nil {
		return fmt.Errorf("invalid FHIR server URL: %w", err)
	}
	if err := c.FHIR.Auth.Validate(); err != nil {
		return err
	}
	if c.FHIR.RateLimit < 0 {
		return errors.New("FHIR rate limit must not be negative")
	}
	if c.FHIR.Version != "" {
		if _, err := semver.NewConstraint(c.FHIR.Version); err != nil {
			return fmt.Errorf("invalid FHIR version constraint: %w", err)
		}
	}
	if err := c.Tag.Validate(); err != nil {
		return fmt.Errorf("invalid tag: %w", err)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be greater than 0, got %d", c.PageSize)
	}
	if !c.Load && !c.Delete {
		return errors.New("nothing to do: loading is disabled and delete is not requested")
	}
	if c.Load {
		if c.Data.Dir == "" {
			return errors.New("data directory is not configured")
		}
		for _, resourceType := range c.ResourceTypes {
			if !catalog.IsKnownResourceType(resourceType) {
				return fmt.Errorf("unknown resource type: %s (supported: %s)", resourceType, strings.Join(catalog.AllResourceTypes(), ", "))
			}
		}
	}
	if err := c.OpenTelemetry.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry configuration: %w", err)
	}
	return nil
}

// RequestedResourceTypes returns the resource types to load.
func (c Config) RequestedResourceTypes() []string {
	if len(c.ResourceTypes) == 0 {
		return catalog.AllResourceTypes()
	}
	return c.ResourceTypes
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"server-url":    "fhir.url",
	"auth-type":     "fhir.auth.type",
	"files":         "data.dir",
	"delete-all":    "delete",
	"no-load":       "load",
	"resource-type": "resourcetypes",
	"tag-code":      "tag.code",
	"tag-system":    "tag.system",
	"page-size":     "pagesize",
	"log-level":     "loglevel",
	"strict":        "strictmode",
}

// LoadConfig loads the configuration from the environment and the given command-line flags (which take precedence).
// flags may be nil.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result, flags)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any, flags *pflag.FlagSet) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	if flags != nil {
		err = k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			value := posflag.FlagVal(flags, f)
			if f.Name == "no-load" {
				noLoad, _ := value.(bool)
				return key, !noLoad
			}
			return key, value
		}), nil)
		if err != nil {
			return err
		}
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		FHIR: coolfhir.DefaultClientConfig(),
		Data: DataConfig{
			Dir: ".",
		},
		Load:          true,
		Tag:           coolfhir.DefaultTag(),
		PageSize:      fhirsync.DefaultPageSize,
		LogLevel:      zerolog.InfoLevel,
		OpenTelemetry: otel.DefaultConfig(),
	}
}

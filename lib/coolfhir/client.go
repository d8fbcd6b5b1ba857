package coolfhir

import (
	"net/http"
	"net/url"
	"time"

	"github.com/SanteonNL/fhirloader/lib/logging"
	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog/log"
)

// ClientConfig holds the configuration for connecting to the FHIR server.
type ClientConfig struct {
	// BaseURL is the base URL of the FHIR server, e.g. https://example.com/fhir
	BaseURL string `koanf:"url"`
	// Auth is the authentication configuration for the FHIR server.
	Auth AuthConfig `koanf:"auth"`
	// Timeout is the maximum duration of a single HTTP request (including reading the response).
	Timeout time.Duration `koanf:"timeout"`
	// RateLimit is the maximum number of requests per second sent to the FHIR server. 0 means unlimited.
	RateLimit float64 `koanf:"ratelimit"`
	// Version is a semver constraint the server's CapabilityStatement.fhirVersion must satisfy.
	// Leave empty to accept any version.
	Version string `koanf:"version"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: time.Minute,
		Version: ">= 4.0.0, < 5.0.0",
	}
}

func (c ClientConfig) ParseURL() (*url.URL, error) {
	return url.Parse(c.BaseURL)
}

// Config returns the FHIR client configuration used for all requests to the FHIR server.
// Searches are performed with HTTP GET, since the search parameters (_tag, _count, _sort) aren't sensitive
// and GET-based search is supported by all servers.
func Config() *fhirclient.Config {
	config := fhirclient.DefaultConfig()
	config.UsePostSearch = false
	config.DefaultOptions = []fhirclient.Option{
		fhirclient.RequestHeaders(map[string][]string{
			"Cache-Control": {"no-cache"},
		}),
	}
	config.Non2xxStatusHandler = func(response *http.Response, responseBody []byte) {
		log.Warn().
			Str(logging.FieldUrl, response.Request.URL.String()).
			Int(logging.FieldStatus, response.StatusCode).
			Msgf("Non-2xx status code from FHIR server (%s), content: %s", response.Request.Method, string(responseBody))
	}
	return &config
}

// NewClient creates a FHIR client for the given base URL.
func NewClient(baseURL *url.URL, httpClient fhirclient.HttpRequestDoer) *fhirclient.BaseClient {
	return fhirclient.New(baseURL, httpClient, Config())
}

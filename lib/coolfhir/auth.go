package coolfhir

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	// BearerToken sends a static, preconfigured access token.
	BearerToken = "bearer"
	// AzureDefault authenticates using the Azure SDK's default credential chain (environment, workload identity, managed identity, CLI).
	AzureDefault = "azure-default"
	// AzureCLI authenticates as the user logged in with the Azure CLI (az login).
	AzureCLI = "azure-cli"
	// AzureManagedIdentity authenticates using the Managed Identity of the Azure environment.
	AzureManagedIdentity = "azure-managedidentity"
	// SmartBackend authenticates as a SMART on FHIR Backend Services client.
	SmartBackend = "smart-backend"
)

type AuthConfig struct {
	// Type of authentication to use, supported options: bearer, azure-default, azure-cli, azure-managedidentity, smart-backend.
	// Leave empty for no authentication.
	Type string `koanf:"type"`
	// Token is the access token sent when Type is bearer.
	Token string `koanf:"token"`
	// Smart configures the client when Type is smart-backend.
	Smart SmartBackendConfig `koanf:"smart"`
}

func (c AuthConfig) Validate() error {
	switch c.Type {
	case "", AzureDefault, AzureCLI, AzureManagedIdentity:
		return nil
	case BearerToken:
		if c.Token == "" {
			return fmt.Errorf("FHIR authentication type %s requires a token", BearerToken)
		}
		return nil
	case SmartBackend:
		return c.Smart.Validate()
	default:
		return fmt.Errorf("invalid FHIR authentication type: %s", c.Type)
	}
}

// NewHTTPClient creates the HTTP client used to talk to the FHIR server.
// Requests are traced, optionally rate limited and authenticated according to the configuration.
func NewHTTPClient(config ClientConfig, tracerProvider trace.TracerProvider) (*http.Client, error) {
	var transport http.RoundTripper = NewTracedHTTPTransport(http.DefaultTransport, tracerProvider.Tracer("fhirloader/fhirclient"))
	if config.RateLimit > 0 {
		transport = NewRateLimitedTransport(transport, config.RateLimit)
	}
	transport, err := NewFHIRAuthRoundTripper(config, transport)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}, nil
}

// NewFHIRAuthRoundTripper wraps the base RoundTripper with the configured authentication.
func NewFHIRAuthRoundTripper(config ClientConfig, base http.RoundTripper) (http.RoundTripper, error) {
	if err := config.Auth.Validate(); err != nil {
		return nil, err
	}
	switch config.Auth.Type {
	case "":
		return base, nil
	case BearerToken:
		return &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Auth.Token, TokenType: "Bearer"}),
			Base:   base,
		}, nil
	case SmartBackend:
		signingKey, err := LoadSigningKey(config.Auth.Smart.KeyFile)
		if err != nil {
			return nil, err
		}
		return &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, SmartBackendTokenSource{
				TokenEndpoint: config.Auth.Smart.TokenEndpoint,
				ClientID:      config.Auth.Smart.ClientID,
				Scope:         config.Auth.Smart.Scope,
				SigningKey:    signingKey,
				HTTPClient:    &http.Client{Timeout: config.Timeout},
			}),
			Base: base,
		}, nil
	default:
		fhirBaseURL, err := url.Parse(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid FHIR base URL: %w", err)
		}
		credential, err := createCredential(config.Auth.Type)
		if err != nil {
			return nil, fmt.Errorf("unable to create Azure credential: %w", err)
		}
		return NewAzureRoundTripper(credential, DefaultAzureScope(fhirBaseURL), base), nil
	}
}

func createCredential(credentialType string) (azcore.TokenCredential, error) {
	switch credentialType {
	case AzureDefault:
		return azidentity.NewDefaultAzureCredential(nil)
	case AzureCLI:
		return azidentity.NewAzureCLICredential(nil)
	case AzureManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{
			ClientOptions: azcore.ClientOptions{},
		}
		// For UserAssignedManagedIdentity, client ID needs to be explicitly set.
		if ID, ok := os.LookupEnv("AZURE_CLIENT_ID"); ok {
			log.Debug().Msg("Azure: configuring UserAssignedManagedIdentity (using AZURE_CLIENT_ID) for FHIR client.")
			opts.ID = azidentity.ClientID(ID)
		}
		return azidentity.NewManagedIdentityCredential(opts)
	default:
		return nil, fmt.Errorf("unsupported Azure credential type: %s", credentialType)
	}
}

func DefaultAzureScope(fhirBaseURL *url.URL) []string {
	return []string{fhirBaseURL.Scheme + "://" + fhirBaseURL.Host + "/.default"}
}

// NewAzureRoundTripper returns a RoundTripper that authenticates requests with access tokens acquired from the Azure credential.
// Tokens are cached until they expire.
func NewAzureRoundTripper(credential azcore.TokenCredential, scopes []string, base http.RoundTripper) http.RoundTripper {
	return &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, azureTokenSource{
			credential: credential,
			scopes:     scopes,
			ctx:        context.Background(),
			timeOut:    10 * time.Second,
		}),
		Base: base,
	}
}

var _ oauth2.TokenSource = &azureTokenSource{}

type azureTokenSource struct {
	credential azcore.TokenCredential
	scopes     []string
	timeOut    time.Duration
	ctx        context.Context
}

func (a azureTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(a.ctx, a.timeOut)
	defer cancel()
	accessToken, err := a.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: a.scopes})
	if err != nil {
		return nil, fmt.Errorf("unable to get OAuth2 access token using Azure credential: %w", err)
	}
	return &oauth2.Token{
		AccessToken: accessToken.Token,
		TokenType:   "Bearer",
		Expiry:      accessToken.ExpiresOn,
	}, nil
}

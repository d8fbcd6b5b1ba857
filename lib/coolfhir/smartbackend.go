package coolfhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// SmartBackendConfig configures SMART on FHIR Backend Services authentication (client_credentials grant with
// a private_key_jwt client assertion).
type SmartBackendConfig struct {
	// TokenEndpoint is the OAuth2 token endpoint of the authorization server.
	TokenEndpoint string `koanf:"tokenendpoint"`
	ClientID      string `koanf:"clientid"`
	// KeyFile is the path to a JWK file containing the private signing key, including kid and alg.
	KeyFile string `koanf:"keyfile"`
	// Scope requested for the access token, e.g. system/*.cruds
	Scope string `koanf:"scope"`
}

func (c SmartBackendConfig) Validate() error {
	if c.TokenEndpoint == "" {
		return fmt.Errorf("FHIR authentication type %s requires a token endpoint", SmartBackend)
	}
	if c.ClientID == "" {
		return fmt.Errorf("FHIR authentication type %s requires a client ID", SmartBackend)
	}
	if c.KeyFile == "" {
		return fmt.Errorf("FHIR authentication type %s requires a key file", SmartBackend)
	}
	return nil
}

// grantTokenValidity specifies how long the grant token (used to acquire the access token) is valid.
const grantTokenValidity = 5 * time.Minute

var _ oauth2.TokenSource = &SmartBackendTokenSource{}

// SmartBackendTokenSource is an oauth2.TokenSource for a SMART on FHIR backend client.
type SmartBackendTokenSource struct {
	TokenEndpoint string
	ClientID      string
	Scope         string
	SigningKey    jwk.Key
	// HTTPClient is used to request access tokens. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (s SmartBackendTokenSource) Token() (*oauth2.Token, error) {
	log.Debug().Msg("Refreshing OAuth2 access token for FHIR server")
	grant, err := s.createGrant(time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT grant: %w", err)
	}
	token, err := s.exchange(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve token: %w", err)
	}
	return token, nil
}

func (s SmartBackendTokenSource) createGrant(now time.Time) (string, error) {
	// aud is a single string, since not all authorization servers accept an array.
	claims := map[string]any{
		"iss": s.ClientID,
		"sub": s.ClientID,
		"aud": s.TokenEndpoint,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(grantTokenValidity).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, "JWT"); err != nil {
		return "", err
	}
	if err := headers.Set(jws.KeyIDKey, s.SigningKey.KeyID()); err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jws.WithKey(s.SigningKey.Algorithm(), s.SigningKey, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return string(signed), nil
}

func (s SmartBackendTokenSource) exchange(grant string) (*oauth2.Token, error) {
	v := url.Values{}
	v.Set("grant_type", "client_credentials")
	v.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	v.Set("client_assertion", grant)
	if s.Scope != "" {
		v.Set("scope", s.Scope)
	}
	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	response, err := httpClient.Post(s.TokenEndpoint, "application/x-www-form-urlencoded", strings.NewReader(v.Encode()))
	if err != nil {
		return nil, fmt.Errorf("cannot fetch token: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, 1024*1024)) // 1mb
	if err != nil {
		return nil, fmt.Errorf("cannot fetch token: %w", err)
	}
	if c := response.StatusCode; c < 200 || c > 299 {
		return nil, &oauth2.RetrieveError{
			Response: response,
			Body:     body,
		}
	}
	return parseTokenResponse(body)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func parseTokenResponse(data []byte) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response does not contain an access token")
	}
	result := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		// allow for some clock skew
		result.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).Add(-10 * time.Second)
	}
	return result, nil
}

// LoadSigningKey reads a private JWK from the given file. The key must specify its key ID and signing algorithm.
func LoadSigningKey(file string) (jwk.Key, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read JWK file: %w", err)
	}
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK file: %w", err)
	}
	if key.KeyID() == "" {
		return nil, errors.New("JWK file does not contain a key ID")
	}
	if key.Algorithm().String() == "" {
		return nil, errors.New("JWK file does not contain a signing algorithm")
	}
	return key, nil
}

package test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupHAPI starts a HAPI FHIR server in a container and returns its FHIR base URL.
// The container is terminated when the test ends.
func SetupHAPI(t *testing.T) *url.URL {
	if testing.Short() {
		t.Skip("skipping HAPI FHIR server test in short mode")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "hapiproject/hapi:v7.2.0",
		ExposedPorts: []string{"8080/tcp"},
		Env: map[string]string{
			"hapi.fhir.fhir_version":              "R4",
			"hapi.fhir.allow_external_references": "true",
		},
		WaitingFor: wait.ForHTTP("/fhir/metadata").WithStartupTimeout(2 * time.Minute),
		LogConsumerCfg: &tc.LogConsumerConfig{
			Consumers: []tc.LogConsumer{hapiLogConsumer{}},
		},
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			panic(err)
		}
	})
	endpoint, err := container.Endpoint(ctx, "http")
	require.NoError(t, err)
	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	return u.JoinPath("fhir")
}

// hapiLogConsumer forwards warnings and errors logged by the HAPI FHIR server, to help diagnose failing requests.
type hapiLogConsumer struct{}

func (hapiLogConsumer) Accept(l tc.Log) {
	line := strings.TrimSpace(string(l.Content))
	switch {
	case strings.Contains(line, " ERROR "):
		log.Error().Str("container", "hapi").Msg(line)
	case strings.Contains(line, " WARN "):
		log.Warn().Str("container", "hapi").Msg(line)
	}
}

package coolfhir

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/test"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	err   error
	hosts []string
}

func (s *stubResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	s.hosts = append(s.hosts, host)
	if s.err != nil {
		return nil, s.err
	}
	return []string{"10.0.0.1"}, nil
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		url string
		err string
	}{
		{url: "https://example.com/fhir"},
		{url: "http://localhost:8080/fhir"},
		{url: "http://LOCALHOST/fhir"},
		{url: "http://127.0.0.1:8080/fhir"},
		{url: "http://[::1]:8080/fhir"},
		{url: "http://example.com/fhir", err: "refusing to send data over http: host example.com is not local"},
		{url: "ftp://example.com/fhir", err: `invalid FHIR server URL: unsupported scheme: "ftp"`},
		{url: "/fhir", err: "invalid FHIR server URL: URL must be absolute"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateServerURL(test.ParseURL(t, tt.url))
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.err)
			require.True(t, faults.IsCategory(err, faults.SetupError))
		})
	}
}

func TestProbeServer(t *testing.T) {
	ctx := context.Background()
	const constraint = ">= 4.0.0, < 5.0.0"

	t.Run("ok", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		resolver := &stubResolver{}

		capabilities, err := ProbeServer(ctx, NewClient(server.URL(), http.DefaultClient), resolver, server.URL(), constraint)

		require.NoError(t, err)
		require.Equal(t, "4.0.1", capabilities.FhirVersion)
		require.Empty(t, resolver.hosts, "IP addresses aren't resolved")
	})
	t.Run("version constraint not set", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		server.FHIRVersion = "5.0.0"

		_, err := ProbeServer(ctx, NewClient(server.URL(), http.DefaultClient), &stubResolver{}, server.URL(), "")

		require.NoError(t, err)
	})
	t.Run("unsupported FHIR version", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		server.FHIRVersion = "3.0.2"

		_, err := ProbeServer(ctx, NewClient(server.URL(), http.DefaultClient), &stubResolver{}, server.URL(), constraint)

		require.EqualError(t, err, "unsupported FHIR version: server reports 3.0.2, required: "+constraint)
		require.True(t, faults.IsCategory(err, faults.SetupError))
	})
	t.Run("metadata returns error", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		server.MetadataStatus = http.StatusInternalServerError

		_, err := ProbeServer(ctx, NewClient(server.URL(), http.DefaultClient), &stubResolver{}, server.URL(), constraint)

		require.ErrorContains(t, err, "failed to read "+server.URL().JoinPath("metadata").String())
		require.True(t, faults.IsCategory(err, faults.SetupError))
	})
	t.Run("host can't be resolved", func(t *testing.T) {
		baseURL := test.ParseURL(t, "https://fhir.invalid/fhir")
		resolver := &stubResolver{err: errors.New("no such host")}

		_, err := ProbeServer(ctx, NewClient(baseURL, http.DefaultClient), resolver, baseURL, constraint)

		require.EqualError(t, err, "unable to resolve FHIR server host fhir.invalid: no such host")
		require.True(t, faults.IsCategory(err, faults.SetupError))
		require.Equal(t, []string{"fhir.invalid"}, resolver.hosts)
	})
	t.Run("plain http to remote host", func(t *testing.T) {
		baseURL, _ := url.Parse("http://fhir.example.com/fhir")

		_, err := ProbeServer(ctx, NewClient(baseURL, http.DefaultClient), &stubResolver{}, baseURL, constraint)

		require.True(t, faults.IsCategory(err, faults.SetupError))
	})
}

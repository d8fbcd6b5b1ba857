package coolfhir

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/SanteonNL/fhirloader/lib/faults"
	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog/log"
)

// Resolver resolves host names, it is implemented by net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var _ Resolver = net.DefaultResolver

// CapabilityStatement contains the parts of the server's CapabilityStatement that are checked at startup.
// It's not decoded into fhir.CapabilityStatement, since that fails on fhirVersion codes the models don't know.
type CapabilityStatement struct {
	ResourceType string `json:"resourceType"`
	FhirVersion  string `json:"fhirVersion"`
	Software     *struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software,omitempty"`
}

// ValidateServerURL checks the FHIR server URL before anything is sent to it.
// Data is only sent over plain HTTP to the local machine.
func ValidateServerURL(u *url.URL) error {
	if u == nil || u.Host == "" {
		return faults.Setup("invalid FHIR server URL", errors.New("URL must be absolute"))
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalHost(u.Hostname()) {
			return nil
		}
		return faults.Setup("refusing to send data over http", fmt.Errorf("host %s is not local", u.Hostname()))
	default:
		return faults.Setup("invalid FHIR server URL", fmt.Errorf("unsupported scheme: %q", u.Scheme))
	}
}

func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ProbeServer checks the FHIR server is reachable and usable: its host name must resolve,
// GET [base]/metadata must return 200 OK with a CapabilityStatement, and its FHIR version must satisfy versionConstraint
// (if set). All failures are SetupErrors.
func ProbeServer(ctx context.Context, client fhirclient.Client, resolver Resolver, baseURL *url.URL, versionConstraint string) (*CapabilityStatement, error) {
	if err := ValidateServerURL(baseURL); err != nil {
		return nil, err
	}
	host := baseURL.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := resolver.LookupHost(ctx, host); err != nil {
			return nil, faults.Setup("unable to resolve FHIR server host "+host, err)
		}
	}

	var statusCode int
	var capabilities CapabilityStatement
	if err := client.ReadWithContext(ctx, "metadata", &capabilities, fhirclient.ResponseStatusCode(&statusCode)); err != nil {
		return nil, faults.Setup("failed to read "+client.Path("metadata").String(), err)
	}
	if statusCode != http.StatusOK {
		return nil, faults.Setup("failed to read "+client.Path("metadata").String(), fmt.Errorf("unexpected status code: %d", statusCode))
	}
	if capabilities.ResourceType != "CapabilityStatement" {
		return nil, faults.Setup("failed to read "+client.Path("metadata").String(), fmt.Errorf("expected a CapabilityStatement, got %q", capabilities.ResourceType))
	}
	if err := checkFHIRVersion(capabilities.FhirVersion, versionConstraint); err != nil {
		return nil, err
	}
	return &capabilities, nil
}

func checkFHIRVersion(version string, constraint string) error {
	if constraint == "" {
		return nil
	}
	if version == "" {
		log.Warn().Msg("FHIR server doesn't report its FHIR version (CapabilityStatement.fhirVersion), skipping version check")
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return faults.Setup("invalid FHIR version constraint", err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return faults.Setup("invalid FHIR version reported by server", err)
	}
	if !c.Check(v) {
		return faults.Setup("unsupported FHIR version", fmt.Errorf("server reports %s, required: %s", version, constraint))
	}
	return nil
}

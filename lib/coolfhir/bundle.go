package coolfhir

import (
	"context"
	"encoding/json"
	"fmt"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type BundleBuilder fhir.Bundle

// Batch starts a batch Bundle. Entries of a batch are processed independently by the FHIR server,
// so a failing entry doesn't roll back the others.
func Batch() *BundleBuilder {
	return &BundleBuilder{
		Type: fhir.BundleTypeBatch,
	}
}

// Update adds an upsert (PUT) of the given resource at the given path, e.g. Location/123.
func (t *BundleBuilder) Update(resource json.RawMessage, path string) *BundleBuilder {
	return t.AppendEntry(fhir.BundleEntry{
		Resource: resource,
		Request: &fhir.BundleEntryRequest{
			Method: fhir.HTTPVerbPUT,
			Url:    path,
		},
	})
}

// Delete adds a DELETE of the resource at the given path.
func (t *BundleBuilder) Delete(path string) *BundleBuilder {
	return t.AppendEntry(fhir.BundleEntry{
		Request: &fhir.BundleEntryRequest{
			Method: fhir.HTTPVerbDELETE,
			Url:    path,
		},
	})
}

func (t *BundleBuilder) AppendEntry(entry fhir.BundleEntry) *BundleBuilder {
	t.Entry = append(t.Entry, entry)
	return t
}

func (t *BundleBuilder) Bundle() fhir.Bundle {
	return fhir.Bundle(*t)
}

// Resource contains the properties every FHIR resource has, used to address it on the server.
type Resource struct {
	Type string `json:"resourceType"`
	ID   string `json:"id"`
}

// Path returns the relative URL of the resource, e.g. Location/123.
func (r Resource) Path() string {
	return r.Type + "/" + r.ID
}

// ResourcesInBundle returns the type and ID of every entry in the bundle that contains a resource.
// Entries that can't be parsed or lack a type or ID are skipped.
func ResourcesInBundle(bundle fhir.Bundle) []Resource {
	var result []Resource
	for _, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var res Resource
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		if res.Type == "" || res.ID == "" {
			continue
		}
		result = append(result, res)
	}
	return result
}

// NextLink returns the URL of the next page of a searchset Bundle, or an empty string if it's the last page.
func NextLink(bundle fhir.Bundle) string {
	for _, link := range bundle.Link {
		if link.Relation == "next" {
			return link.Url
		}
	}
	return ""
}

// ExecuteBatch posts the batch Bundle to the FHIR server's base URL and returns the batch-response Bundle.
func ExecuteBatch(ctx context.Context, fhirClient fhirclient.Client, bundle fhir.Bundle) (fhir.Bundle, error) {
	var resultBundle fhir.Bundle
	if err := fhirClient.CreateWithContext(ctx, bundle, &resultBundle, fhirclient.AtPath("/")); err != nil {
		return fhir.Bundle{}, fmt.Errorf("failed to execute FHIR batch: %w", err)
	}
	return resultBundle, nil
}

package fhirsync

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/SanteonNL/fhirloader/catalog"
	"github.com/SanteonNL/fhirloader/fhirsync/mock"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/test"
	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.uber.org/mock/gomock"
)

var testTag = coolfhir.Tag{System: "http://example.com/tags", Code: "test-run"}

const organizationJSON = `{"resourceType":"Organization","id":"Org-100","name":"Hospital 100"}`

const bedsBundleJSON = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {"resource": {"resourceType": "Location", "id": "bed-1", "partOf": {"reference": "Location/ward-1"}}},
    {"resource": {"resourceType": "Location", "name": "no id"}},
    {"resource": {"resourceType": "Location", "id": "ward-1", "managingOrganization": {"reference": "Organization/Org-100"}}}
  ]
}`

func writeFiles(t *testing.T, files map[string]string) billy.Filesystem {
	fs := memfs.New()
	for name, contents := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(contents), 0644))
	}
	return fs
}

func plan(t *testing.T, fs billy.Filesystem) []catalog.ResourceFile {
	result, _, err := catalog.BuildLoadPlan(fs, "data", catalog.AllResourceTypes())
	require.NoError(t, err)
	return result
}

func tags(t *testing.T, resource json.RawMessage) []fhir.Coding {
	var actual struct {
		Meta struct {
			Tag []fhir.Coding `json:"tag"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(resource, &actual))
	return actual.Meta.Tag
}

func TestUpsertBatch(t *testing.T) {
	t.Run("single resource is wrapped in a one-entry batch", func(t *testing.T) {
		batch, failures, err := UpsertBatch([]byte(organizationJSON), testTag)

		require.NoError(t, err)
		require.Empty(t, failures)
		require.Equal(t, fhir.BundleTypeBatch, batch.Type)
		require.Len(t, batch.Entry, 1)
		require.Equal(t, fhir.HTTPVerbPUT, batch.Entry[0].Request.Method)
		require.Equal(t, "Organization/Org-100", batch.Entry[0].Request.Url)
		require.Equal(t, []fhir.Coding{testTag.Coding()}, tags(t, batch.Entry[0].Resource))
		require.Contains(t, string(batch.Entry[0].Resource), `"name":"Hospital 100"`)
	})
	t.Run("Bundle entries are rewritten to PUTs", func(t *testing.T) {
		batch, failures, err := UpsertBatch([]byte(bedsBundleJSON), testTag)

		require.NoError(t, err)
		require.Equal(t, fhir.BundleTypeBatch, batch.Type)
		require.Len(t, batch.Entry, 2)
		require.Equal(t, "Location/bed-1", batch.Entry[0].Request.Url)
		require.Equal(t, "Location/ward-1", batch.Entry[1].Request.Url)
		for _, entry := range batch.Entry {
			require.Equal(t, fhir.HTTPVerbPUT, entry.Request.Method)
			require.Equal(t, []fhir.Coding{testTag.Coding()}, tags(t, entry.Resource))
		}
		require.Len(t, failures, 1)
		require.Equal(t, 1, failures[0].Index)
		require.EqualError(t, failures[0], "entry 1: resource has no resourceType or id")
	})
	t.Run("existing tags are kept", func(t *testing.T) {
		resource := `{"resourceType":"Group","id":"1","meta":{"tag":[{"system":"http://example.com","code":"other"}]}}`

		batch, _, err := UpsertBatch([]byte(resource), testTag)

		require.NoError(t, err)
		actual := tags(t, batch.Entry[0].Resource)
		require.Len(t, actual, 2)
		require.Equal(t, testTag.Coding(), actual[1])
	})
	t.Run("resource with null meta", func(t *testing.T) {
		batch, failures, err := UpsertBatch([]byte(`{"resourceType":"Organization","id":"1","meta":null}`), testTag)

		require.NoError(t, err)
		require.Empty(t, failures)
		require.Len(t, batch.Entry, 1)
		require.Equal(t, "Organization/1", batch.Entry[0].Request.Url)
		require.Equal(t, []fhir.Coding{testTag.Coding()}, tags(t, batch.Entry[0].Resource))
	})
	t.Run("Bundle entry with null resource", func(t *testing.T) {
		document := `{"resourceType":"Bundle","type":"collection","entry":[{"resource":null},{"resource":` + organizationJSON + `}]}`

		batch, failures, err := UpsertBatch([]byte(document), testTag)

		require.NoError(t, err)
		require.Len(t, batch.Entry, 1)
		require.Len(t, failures, 1)
		require.Equal(t, 0, failures[0].Index)
	})
	t.Run("resource without id", func(t *testing.T) {
		batch, failures, err := UpsertBatch([]byte(`{"resourceType":"Measure"}`), testTag)

		require.NoError(t, err)
		require.Empty(t, batch.Entry)
		require.Len(t, failures, 1)
	})
	t.Run("invalid JSON", func(t *testing.T) {
		_, _, err := UpsertBatch([]byte(`{"resourceType":`), testTag)

		require.Error(t, err)
	})
}

func TestOrchestrator_LoadAll(t *testing.T) {
	ctx := context.Background()

	t.Run("single resource is sent as one-entry PUT batch with the tag", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mock.NewMockClient(ctrl)
		fs := writeFiles(t, map[string]string{"data/Org-100.json": organizationJSON})
		var sent fhir.Bundle
		client.EXPECT().CreateWithContext(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, resource any, result any, _ ...fhirclient.Option) error {
				sent = resource.(fhir.Bundle)
				*result.(*fhir.Bundle) = fhir.Bundle{
					Type:  fhir.BundleTypeBatchResponse,
					Entry: []fhir.BundleEntry{{Response: &fhir.BundleEntryResponse{Status: "201 Created"}}},
				}
				return nil
			})

		report := New(client, fs, testTag, 0).LoadAll(ctx, plan(t, fs))

		require.False(t, report.Failed())
		require.Equal(t, 1, report.Loaded())
		require.Equal(t, fhir.BundleTypeBatch, sent.Type)
		require.Len(t, sent.Entry, 1)
		require.Equal(t, fhir.HTTPVerbPUT, sent.Entry[0].Request.Method)
		require.Equal(t, "Organization/Org-100", sent.Entry[0].Request.Url)
		require.Equal(t, []fhir.Coding{testTag.Coding()}, tags(t, sent.Entry[0].Resource))
	})
	t.Run("files are loaded in plan order", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		fs := writeFiles(t, map[string]string{
			"data/Org-100-beds.json": bedsBundleJSON,
			"data/Org-100.json":      organizationJSON,
		})
		orchestrator := New(coolfhir.NewClient(server.URL(), http.DefaultClient), fs, testTag, 0)

		report := orchestrator.LoadAll(ctx, plan(t, fs))

		batches := server.Batches()
		require.Len(t, batches, 2)
		require.Equal(t, "Organization/Org-100", batches[0].Entry[0].Request.Url)
		require.Equal(t, "Location/bed-1", batches[1].Entry[0].Request.Url)
		require.Len(t, report.Files, 2)
		require.NoError(t, report.Files[0].Err)
		require.Equal(t, 2, report.Files[1].Entries)
		require.Len(t, report.Files[1].EntryFailures, 1, "Location without id")
		require.Equal(t, []fhir.Coding{testTag.Coding()}, tags(t, server.Get("Location", "ward-1")))
	})
	t.Run("failing files don't stop the run", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		server.BatchStatus = func(batch fhir.Bundle) int {
			if strings.HasPrefix(batch.Entry[0].Request.Url, "Group/") {
				return http.StatusInternalServerError
			}
			return 0
		}
		fs := writeFiles(t, map[string]string{
			"data/Org-1.json":        `{"resourceType":"Organization",`,
			"data/Org-1-groups.json": `{"resourceType":"Group","id":"g1"}`,
			"data/Org-2.json":        `{"resourceType":"Organization","id":"Org-2"}`,
		})
		orchestrator := New(coolfhir.NewClient(server.URL(), http.DefaultClient), fs, testTag, 0)

		report := orchestrator.LoadAll(ctx, plan(t, fs))

		require.True(t, report.Failed())
		require.Equal(t, 2, report.FailedFiles())
		require.Equal(t, 1, report.Loaded())
		require.Equal(t, "data/Org-1.json", report.Files[0].File.Path)
		require.ErrorContains(t, report.Files[0].Err, "invalid file contents")
		require.Equal(t, "data/Org-2.json", report.Files[1].File.Path)
		require.NoError(t, report.Files[1].Err)
		require.Equal(t, "data/Org-1-groups.json", report.Files[2].File.Path)
		require.True(t, faults.IsCategory(report.Files[2].Err, faults.TransportFailure))
		require.NotNil(t, server.Get("Organization", "Org-2"))
	})
	t.Run("failing entries are reported", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		server.EntryStatus = func(entry fhir.BundleEntry) string {
			if entry.Request.Url == "Location/ward-1" {
				return "422 Unprocessable Entity"
			}
			return ""
		}
		fs := writeFiles(t, map[string]string{"data/Org-100-beds.json": bedsBundleJSON})
		orchestrator := New(coolfhir.NewClient(server.URL(), http.DefaultClient), fs, testTag, 0)

		report := orchestrator.LoadAll(ctx, plan(t, fs))

		require.NoError(t, report.Files[0].Err)
		failures := report.Files[0].EntryFailures
		require.Len(t, failures, 2)
		require.Equal(t, 1, failures[0].Index)
		require.Equal(t, 2, failures[1].Index, "index of the entry in the file")
		require.Equal(t, "Location/ward-1", failures[1].Request)
		require.Equal(t, "422 Unprocessable Entity", failures[1].Status)
		require.Equal(t, 2, report.FailedEntries())
	})
	t.Run("file that can't be read", func(t *testing.T) {
		server := test.NewFHIRServer(t)
		orchestrator := New(coolfhir.NewClient(server.URL(), http.DefaultClient), memfs.New(), testTag, 0)

		report := orchestrator.LoadAll(ctx, []catalog.ResourceFile{{Path: "data/Org-1.json"}})

		require.ErrorContains(t, report.Files[0].Err, "unable to read file")
		require.Empty(t, server.Requests())
	})
}

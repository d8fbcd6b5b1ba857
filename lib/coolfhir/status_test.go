package coolfhir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestEntryStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		response *fhir.BundleEntryResponse
		expected int
		err      string
	}{
		{name: "code and reason phrase", response: &fhir.BundleEntryResponse{Status: "201 Created"}, expected: 201},
		{name: "code only", response: &fhir.BundleEntryResponse{Status: "200"}, expected: 200},
		{name: "surrounding whitespace", response: &fhir.BundleEntryResponse{Status: " 204 No Content "}, expected: 204},
		{name: "not a number", response: &fhir.BundleEntryResponse{Status: "Created"}, err: `invalid entry response status: "Created"`},
		{name: "no response", err: "entry has no response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := EntryStatusCode(fhir.BundleEntry{Response: tt.response})
			if tt.err != "" {
				require.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, actual)
		})
	}
}

func TestFailedEntries(t *testing.T) {
	request := Batch().
		Delete("Location/1").
		Delete("Location/2").
		Delete("Location/3").
		Delete("Location/4").
		Bundle()
	response := fhir.Bundle{
		Entry: []fhir.BundleEntry{
			{Response: &fhir.BundleEntryResponse{Status: "204 No Content"}},
			{Response: &fhir.BundleEntryResponse{
				Status:  "409 Conflict",
				Outcome: json.RawMessage(`{"resourceType":"OperationOutcome"}`),
			}},
			{Response: &fhir.BundleEntryResponse{Status: "410 Gone"}},
		},
	}

	failures := FailedEntries(request, response, DeleteAcceptedStatuses)

	require.Len(t, failures, 2)
	require.Equal(t, 1, failures[0].Index)
	require.Equal(t, "Location/2", failures[0].Request)
	require.Equal(t, "409 Conflict", failures[0].Status)
	require.Equal(t, `{"resourceType":"OperationOutcome"}`, failures[0].Outcome)
	require.EqualError(t, failures[0], `entry 1 (Location/2) failed with status "409 Conflict": {"resourceType":"OperationOutcome"}`)
	require.Equal(t, 3, failures[1].Index)
	require.Equal(t, "Location/4", failures[1].Request)
	require.Equal(t, "missing from batch-response", failures[1].Status)
}

func TestFailedEntries_Upsert(t *testing.T) {
	request := Batch().
		Update(json.RawMessage(`{"resourceType":"Group","id":"1"}`), "Group/1").
		Update(json.RawMessage(`{"resourceType":"Group","id":"2"}`), "Group/2").
		Bundle()
	response := fhir.Bundle{
		Entry: []fhir.BundleEntry{
			{Response: &fhir.BundleEntryResponse{Status: "200 OK"}},
			{Response: &fhir.BundleEntryResponse{Status: "201 Created"}},
		},
	}

	require.Empty(t, FailedEntries(request, response, UpsertAcceptedStatuses))
}

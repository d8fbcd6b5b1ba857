package coolfhir

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

var (
	// UpsertAcceptedStatuses are the entry statuses of a successful PUT: updated or created.
	UpsertAcceptedStatuses = []int{200, 201}
	// DeleteAcceptedStatuses are the entry statuses of a successful DELETE.
	// 404 and 410 mean the resource is already gone, which is what we want.
	DeleteAcceptedStatuses = []int{200, 202, 204, 404, 410}
)

// EntryStatusCode parses the HTTP status code of a batch-response entry.
// Servers return either the bare code ("201") or the code followed by the reason phrase ("201 Created").
func EntryStatusCode(entry fhir.BundleEntry) (int, error) {
	if entry.Response == nil {
		return 0, errors.New("entry has no response")
	}
	status := strings.TrimSpace(entry.Response.Status)
	code, _, _ := strings.Cut(status, " ")
	result, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("invalid entry response status: %q", entry.Response.Status)
	}
	return result, nil
}

// EntryFailure describes a batch-response entry that did not have an accepted status.
type EntryFailure struct {
	// Index is the position of the entry in the batch.
	Index int
	// Request is the request URL of the entry (e.g. Location/1), if known.
	Request string
	Status  string
	// Outcome is the OperationOutcome returned for the entry, if any.
	Outcome string
	// Reason is set instead of Status when the entry wasn't sent to the server at all.
	Reason string
}

func (f EntryFailure) Error() string {
	if f.Reason != "" {
		return fmt.Sprintf("entry %d: %s", f.Index, f.Reason)
	}
	msg := fmt.Sprintf("entry %d (%s) failed with status %q", f.Index, f.Request, f.Status)
	if f.Outcome != "" {
		msg += ": " + f.Outcome
	}
	return msg
}

// FailedEntries compares the batch-response to the request batch and returns the entries whose status isn't accepted.
// Batch responses contain one entry for each request entry, in the same order.
func FailedEntries(request fhir.Bundle, response fhir.Bundle, accepted []int) []EntryFailure {
	var result []EntryFailure
	for i, entry := range response.Entry {
		code, err := EntryStatusCode(entry)
		if err == nil && slices.Contains(accepted, code) {
			continue
		}
		failure := EntryFailure{Index: i}
		if i < len(request.Entry) && request.Entry[i].Request != nil {
			failure.Request = request.Entry[i].Request.Url
		}
		if entry.Response != nil {
			failure.Status = entry.Response.Status
			if len(entry.Response.Outcome) > 0 {
				failure.Outcome = string(entry.Response.Outcome)
			}
		}
		result = append(result, failure)
	}
	if len(response.Entry) < len(request.Entry) {
		for i := len(response.Entry); i < len(request.Entry); i++ {
			failure := EntryFailure{Index: i, Status: "missing from batch-response"}
			if request.Entry[i].Request != nil {
				failure.Request = request.Entry[i].Request.Url
			}
			result = append(result, failure)
		}
	}
	return result
}

package test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// RecordedRequest is a request received by the FHIRServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Batch unmarshals the request body as Bundle.
func (r RecordedRequest) Batch() fhir.Bundle {
	var bundle fhir.Bundle
	if err := json.Unmarshal(r.Body, &bundle); err != nil {
		panic(err)
	}
	return bundle
}

type storedResource struct {
	id   string
	data json.RawMessage
}

type search struct {
	resourceType string
	tag          url.Values
	matches      []json.RawMessage
}

// FHIRServer is an in-memory FHIR server for unit tests. It supports:
// - GET /metadata
// - GET /{type} with _count, _tag and _sort; results are snapshotted and paged through next links (like HAPI does),
//   or paged over the current resources when LivePaging is set,
// - GET /?_getpages={id}&_getpagesoffset={offset}&_count={count} to fetch further pages (on any path),
// - POST / with a batch Bundle containing PUT and DELETE entries.
type FHIRServer struct {
	Server *httptest.Server
	// MetadataStatus is the status code returned for GET /metadata. Defaults to 200.
	MetadataStatus int
	// FHIRVersion is returned as CapabilityStatement.fhirVersion. Defaults to 4.0.1.
	FHIRVersion string
	// BatchStatus, if set, makes every batch fail with this status code.
	BatchStatus func(batch fhir.Bundle) int
	// EntryStatus, if set, overrides the status of batch entries. Return an empty string to use the default status.
	EntryStatus func(entry fhir.BundleEntry) string
	// LivePaging makes further pages index the resources currently matching the search, instead of a snapshot
	// taken at the initial search. Deleting the resources of a page then shifts the next page past resources
	// that haven't been returned yet, like servers that don't snapshot search results do.
	LivePaging bool
	// RelativeLinks makes next links relative to the base URL, e.g. Location?_getpages=1&_getpagesoffset=20
	RelativeLinks bool

	mu        sync.Mutex
	resources map[string][]storedResource
	searches  map[string]search
	requests  []RecordedRequest
}

// NewFHIRServer starts a FHIRServer that is closed when the test ends.
func NewFHIRServer(t *testing.T) *FHIRServer {
	s := &FHIRServer{
		MetadataStatus: http.StatusOK,
		FHIRVersion:    "4.0.1",
		resources:      map[string][]storedResource{},
		searches:       map[string]search{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *FHIRServer) URL() *url.URL {
	u, _ := url.Parse(s.Server.URL)
	return u
}

// Add stores the resource as-is.
func (s *FHIRServer) Add(resource any) {
	data, err := json.Marshal(resource)
	if err != nil {
		panic(err)
	}
	var res struct {
		Type string `json:"resourceType"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(res.Type, res.ID, data)
}

// AddTagged stores count resources of the given type, each carrying the given tag.
func (s *FHIRServer) AddTagged(resourceType string, count int, system, code string) {
	for i := 0; i < count; i++ {
		s.Add(map[string]any{
			"resourceType": resourceType,
			"id":           fmt.Sprintf("%s-%d", strings.ToLower(resourceType), i),
			"meta": map[string]any{
				"tag": []map[string]string{{"system": system, "code": code}},
			},
		})
	}
}

// Count returns the number of stored resources of the given type.
func (s *FHIRServer) Count(resourceType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources[resourceType])
}

// Get returns the stored resource, or nil if it doesn't exist.
func (s *FHIRServer) Get(resourceType string, id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.resources[resourceType] {
		if res.id == id {
			return res.data
		}
	}
	return nil
}

// Requests returns the requests received so far.
func (s *FHIRServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Batches returns the batch Bundles posted to the server so far.
func (s *FHIRServer) Batches() []fhir.Bundle {
	var result []fhir.Bundle
	for _, req := range s.Requests() {
		if req.Method == http.MethodPost {
			result = append(result, req.Batch())
		}
	}
	return result
}

// Searches returns the search requests (initial pages only) received for the given resource type.
func (s *FHIRServer) Searches(resourceType string) []RecordedRequest {
	var result []RecordedRequest
	for _, req := range s.Requests() {
		if req.Method == http.MethodGet && req.Path == "/"+resourceType {
			result = append(result, req)
		}
	}
	return result
}

// ResetRequests forgets all recorded requests.
func (s *FHIRServer) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *FHIRServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	})
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/metadata":
		s.handleMetadata(w)
	case r.Method == http.MethodGet && r.URL.Query().Has("_getpages"):
		s.handlePage(w, r.URL.Query())
	case r.Method == http.MethodGet:
		s.handleSearch(w, strings.TrimPrefix(r.URL.Path, "/"), r.URL.Query())
	case r.Method == http.MethodPost && r.URL.Path == "/":
		s.handleBatch(w, body)
	default:
		writeOperationOutcome(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

func (s *FHIRServer) handleMetadata(w http.ResponseWriter) {
	if s.MetadataStatus != http.StatusOK {
		writeOperationOutcome(w, s.MetadataStatus, "metadata unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"kind":         "instance",
		"fhirVersion":  s.FHIRVersion,
		"format":       []string{"json"},
	})
}

func (s *FHIRServer) handleSearch(w http.ResponseWriter, resourceType string, query url.Values) {
	count, err := strconv.Atoi(query.Get("_count"))
	if err != nil || count <= 0 {
		count = 20
	}
	tag := url.Values{}
	if query.Has("_tag") {
		tag.Set("_tag", query.Get("_tag"))
	}

	s.mu.Lock()
	matches := s.match(resourceType, tag)
	searchID := strconv.Itoa(len(s.searches) + 1)
	s.searches[searchID] = search{resourceType: resourceType, tag: tag, matches: matches}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.page(searchID, resourceType, matches, 0, count))
}

func (s *FHIRServer) handlePage(w http.ResponseWriter, query url.Values) {
	s.mu.Lock()
	previous, ok := s.searches[query.Get("_getpages")]
	matches := previous.matches
	if ok && s.LivePaging {
		matches = s.match(previous.resourceType, previous.tag)
	}
	s.mu.Unlock()
	if !ok {
		writeOperationOutcome(w, http.StatusGone, "search expired")
		return
	}
	offset, _ := strconv.Atoi(query.Get("_getpagesoffset"))
	count, _ := strconv.Atoi(query.Get("_count"))
	writeJSON(w, http.StatusOK, s.page(query.Get("_getpages"), previous.resourceType, matches, offset, count))
}

// match returns the stored resources of the given type, filtered on the _tag parameter (if present).
func (s *FHIRServer) match(resourceType string, tag url.Values) []json.RawMessage {
	system, code, _ := strings.Cut(tag.Get("_tag"), "|")
	var matches []json.RawMessage
	for _, res := range s.resources[resourceType] {
		if tag.Has("_tag") && !hasTag(res.data, system, code) {
			continue
		}
		matches = append(matches, res.data)
	}
	return matches
}

func (s *FHIRServer) page(searchID string, resourceType string, matches []json.RawMessage, offset int, count int) fhir.Bundle {
	total := len(matches)
	result := fhir.Bundle{
		Type:  fhir.BundleTypeSearchset,
		Total: &total,
	}
	end := min(offset+count, total)
	for _, data := range matches[min(offset, total):end] {
		result.Entry = append(result.Entry, fhir.BundleEntry{Resource: data})
	}
	if end < total {
		next := s.URL()
		if s.RelativeLinks {
			next = &url.URL{Path: resourceType}
		}
		next.RawQuery = url.Values{
			"_getpages":       []string{searchID},
			"_getpagesoffset": []string{strconv.Itoa(end)},
			"_count":          []string{strconv.Itoa(count)},
		}.Encode()
		result.Link = append(result.Link, fhir.BundleLink{Relation: "next", Url: next.String()})
	}
	return result
}

func (s *FHIRServer) handleBatch(w http.ResponseWriter, body []byte) {
	var batch fhir.Bundle
	if err := json.Unmarshal(body, &batch); err != nil {
		writeOperationOutcome(w, http.StatusBadRequest, "invalid Bundle: "+err.Error())
		return
	}
	if batch.Type != fhir.BundleTypeBatch {
		writeOperationOutcome(w, http.StatusBadRequest, "only batch Bundles are supported")
		return
	}
	if s.BatchStatus != nil {
		if status := s.BatchStatus(batch); status != 0 {
			writeOperationOutcome(w, status, "batch rejected")
			return
		}
	}
	result := fhir.Bundle{Type: fhir.BundleTypeBatchResponse}
	s.mu.Lock()
	for _, entry := range batch.Entry {
		status := s.processEntry(entry)
		if s.EntryStatus != nil {
			if override := s.EntryStatus(entry); override != "" {
				status = override
			}
		}
		result.Entry = append(result.Entry, fhir.BundleEntry{
			Response: &fhir.BundleEntryResponse{Status: status},
		})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, result)
}

func (s *FHIRServer) processEntry(entry fhir.BundleEntry) string {
	if entry.Request == nil {
		return "400 Bad Request"
	}
	resourceType, id, ok := strings.Cut(entry.Request.Url, "/")
	if !ok || id == "" {
		return "400 Bad Request"
	}
	switch entry.Request.Method {
	case fhir.HTTPVerbPUT:
		if s.put(resourceType, id, entry.Resource) {
			return "201 Created"
		}
		return "200 OK"
	case fhir.HTTPVerbDELETE:
		if s.delete(resourceType, id) {
			return "204 No Content"
		}
		return "404 Not Found"
	default:
		return "405 Method Not Allowed"
	}
}

// put stores the resource and reports whether it was created.
func (s *FHIRServer) put(resourceType string, id string, data json.RawMessage) bool {
	for i, res := range s.resources[resourceType] {
		if res.id == id {
			s.resources[resourceType][i].data = data
			return false
		}
	}
	s.resources[resourceType] = append(s.resources[resourceType], storedResource{id: id, data: data})
	return true
}

func (s *FHIRServer) delete(resourceType string, id string) bool {
	for i, res := range s.resources[resourceType] {
		if res.id == id {
			s.resources[resourceType] = slices.Delete(s.resources[resourceType], i, i+1)
			return true
		}
	}
	return false
}

func hasTag(data json.RawMessage, system string, code string) bool {
	var resource struct {
		Meta struct {
			Tag []fhir.Coding `json:"tag"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(data, &resource); err != nil {
		return false
	}
	for _, tag := range resource.Meta.Tag {
		if tag.System != nil && *tag.System == system && tag.Code != nil && *tag.Code == code {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOperationOutcome(w http.ResponseWriter, status int, diagnostics string) {
	writeJSON(w, status, map[string]any{
		"resourceType": "OperationOutcome",
		"issue": []map[string]string{
			{"severity": "error", "code": "processing", "diagnostics": diagnostics},
		},
	})
}

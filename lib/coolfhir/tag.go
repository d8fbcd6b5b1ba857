package coolfhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SanteonNL/fhirloader/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const (
	DefaultTagSystem = "https://github.com/microsoft-healthcare-madison/learning-spike-erp"
	DefaultTagCode   = "sample-data"
)

// Tag marks every resource created by a run, so the same resources can be found (and deleted) later.
type Tag struct {
	System string `koanf:"system"`
	Code   string `koanf:"code"`
}

func DefaultTag() Tag {
	return Tag{
		System: DefaultTagSystem,
		Code:   DefaultTagCode,
	}
}

func (t Tag) Validate() error {
	if t.System == "" {
		return errors.New("tag system is not configured")
	}
	if t.Code == "" {
		return errors.New("tag code is not configured")
	}
	if strings.Contains(t.Code, "|") {
		return fmt.Errorf("tag code must not contain '|': %s", t.Code)
	}
	return nil
}

// SearchToken returns the token search value for the _tag search parameter, e.g. http://example.com|sample-data
func (t Tag) SearchToken() string {
	return t.System + "|" + t.Code
}

func (t Tag) Coding() fhir.Coding {
	return fhir.Coding{
		System: to.Ptr(t.System),
		Code:   to.Ptr(t.Code),
	}
}

func (t Tag) String() string {
	return t.SearchToken()
}

// ApplyTag adds the tag to resource.meta.tag, keeping any existing tags.
// If the resource already carries the tag, it is returned unchanged.
// Only the meta element is re-encoded, all other elements are kept as-is.
func ApplyTag(resource json.RawMessage, tag Tag) (json.RawMessage, error) {
	var elements map[string]json.RawMessage
	if err := json.Unmarshal(resource, &elements); err != nil {
		return nil, fmt.Errorf("resource is not a JSON object: %w", err)
	}
	if elements == nil {
		return nil, errors.New("resource is not a JSON object: null")
	}
	var meta map[string]json.RawMessage
	if raw, ok := elements["meta"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("invalid resource.meta: %w", err)
		}
	}
	// "meta": null unmarshals to a nil map
	if meta == nil {
		meta = map[string]json.RawMessage{}
	}
	var tags []fhir.Coding
	if raw, ok := meta["tag"]; ok {
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, fmt.Errorf("invalid resource.meta.tag: %w", err)
		}
	}
	for _, existing := range tags {
		if to.EmptyString(existing.System) == tag.System && to.EmptyString(existing.Code) == tag.Code {
			return resource, nil
		}
	}
	tags = append(tags, tag.Coding())

	var err error
	if meta["tag"], err = json.Marshal(tags); err != nil {
		return nil, err
	}
	if elements["meta"], err = json.Marshal(meta); err != nil {
		return nil, err
	}
	return json.Marshal(elements)
}

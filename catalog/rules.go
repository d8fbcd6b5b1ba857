package catalog

import (
	"slices"
	"strings"
)

// ClassificationRule describes what a file with a given type tag contains, and when it must be loaded.
// A resource type that may reference another resource type always has a greater priority.
type ClassificationRule struct {
	// TypeTag is the file name suffix, e.g. "beds" for Org-100-beds.json. Empty for bare organization files.
	TypeTag                string
	Priority               int
	ContainedResourceTypes []string
}

var rules = []ClassificationRule{
	{TypeTag: "", Priority: 1, ContainedResourceTypes: []string{"Organization"}},
	{TypeTag: "beds", Priority: 2, ContainedResourceTypes: []string{"Location"}},
	{TypeTag: "groups", Priority: 3, ContainedResourceTypes: []string{"Group"}},
	{TypeTag: "measures", Priority: 4, ContainedResourceTypes: []string{"Measure"}},
	{TypeTag: "measureReports", Priority: 5, ContainedResourceTypes: []string{"MeasureReport"}},
}

// deletionOrder lists resource types dependents-first. It's fixed rather than derived from the rules or the data
// on the server, since a partially loaded server doesn't reveal all references.
var deletionOrder = []string{"MeasureReport", "Measure", "Group", "Location", "Organization"}

var sortParameters = map[string]string{
	"Location": "partof",
}

// Rules returns the classification rules in load order.
func Rules() []ClassificationRule {
	result := make([]ClassificationRule, len(rules))
	for i, rule := range rules {
		result[i] = rule
		result[i].ContainedResourceTypes = slices.Clone(rule.ContainedResourceTypes)
	}
	return result
}

// RuleFor returns the rule for the given type tag (case-insensitive).
func RuleFor(typeTag string) (ClassificationRule, bool) {
	for _, rule := range Rules() {
		if strings.EqualFold(rule.TypeTag, typeTag) {
			return rule, true
		}
	}
	return ClassificationRule{}, false
}

func organizationRule() ClassificationRule {
	rule, _ := RuleFor("")
	return rule
}

// DeletionOrder returns the resource types in the order they must be deleted.
func DeletionOrder() []string {
	return slices.Clone(deletionOrder)
}

// SortParameter returns the _sort search parameter to use when searching resources of the given type for deletion,
// or an empty string if the results don't need to be sorted.
func SortParameter(resourceType string) string {
	return sortParameters[resourceType]
}

// AllResourceTypes returns every resource type a data file can contain, in load order.
func AllResourceTypes() []string {
	var result []string
	for _, rule := range rules {
		for _, resourceType := range rule.ContainedResourceTypes {
			if !slices.Contains(result, resourceType) {
				result = append(result, resourceType)
			}
		}
	}
	return result
}

// IsKnownResourceType reports whether the resource type is contained by any of the data files.
func IsKnownResourceType(resourceType string) bool {
	return slices.Contains(AllResourceTypes(), resourceType)
}

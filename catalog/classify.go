package catalog

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"

	"github.com/SanteonNL/fhirloader/lib/faults"
)

// ErrNotJSON is returned by Classify for files that don't have a .json extension.
var ErrNotJSON = errors.New("not a JSON file")

// fileNamePattern matches e.g. Org-100.json, Org-100-beds.json, 100-groups.json and measures.json.
var fileNamePattern = regexp.MustCompile(`^(?:(?P<prefix>[A-Za-z]+)-)?(?P<org>\d+)?(?:-?(?P<tag>[A-Za-z][A-Za-z0-9]*))?\.(?i:json)$`)

var jsonExtension = regexp.MustCompile(`\.(?i:json)$`)

// ResourceFile is a data file, classified by its name.
type ResourceFile struct {
	// Path is the path of the file on the data filesystem.
	Path string
	// Folder is the directory containing the file.
	Folder string
	// TypeTag is the suffix of the file name (e.g. beds), empty for bare organization files.
	TypeTag string
	// OrgID is the organization number in the file name, 0 if absent.
	OrgID        int
	LoadPriority int
	// ContainedResourceTypes are the resource types the file may contain.
	ContainedResourceTypes []string
	// UnknownTypeTag is set when TypeTag doesn't match any rule, in which case the file is treated as an organization file.
	UnknownTypeTag bool
}

func (f ResourceFile) Name() string {
	return path.Base(f.Path)
}

// Classify derives the ResourceFile from the file's name.
// It returns ErrNotJSON for non-JSON files, and a ClassificationWarning if the name isn't recognized.
func Classify(filePath string) (ResourceFile, error) {
	name := path.Base(filePath)
	if !jsonExtension.MatchString(name) {
		return ResourceFile{}, fmt.Errorf("%s: %w", filePath, ErrNotJSON)
	}
	match := fileNamePattern.FindStringSubmatch(name)
	if match == nil {
		return ResourceFile{}, faults.New(faults.ClassificationWarning, "unrecognized file name: "+filePath, nil)
	}
	result := ResourceFile{
		Path:    filePath,
		Folder:  path.Dir(filePath),
		TypeTag: match[fileNamePattern.SubexpIndex("tag")],
	}
	if org := match[fileNamePattern.SubexpIndex("org")]; org != "" {
		orgID, err := strconv.Atoi(org)
		if err != nil {
			return ResourceFile{}, faults.New(faults.ClassificationWarning, "invalid organization number in file name: "+filePath, err)
		}
		result.OrgID = orgID
	}
	rule, ok := RuleFor(result.TypeTag)
	if !ok {
		rule = organizationRule()
		result.UnknownTypeTag = true
	}
	result.LoadPriority = rule.Priority
	result.ContainedResourceTypes = rule.ContainedResourceTypes
	return result, nil
}

// ContainsRequestedResources reports whether every resource type the file may contain was requested.
func ContainsRequestedResources(file ResourceFile, requested []string) bool {
	for _, resourceType := range file.ContainedResourceTypes {
		if !slices.Contains(requested, resourceType) {
			return false
		}
	}
	return true
}

package catalog

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/logging"
	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog/log"
)

var ErrDirectoryNotFound = errors.New("directory not found")

// Warning is a file that was skipped or classified with a fallback rule.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) Error() string {
	return w.Message
}

// BuildLoadPlan walks the data directory and returns the files containing only requested resource types,
// in the order they must be loaded:
//   - folders in depth-first order, subdirectories in lexical order, a folder's files before its subdirectories,
//   - within a folder by load priority, organization number and file name.
func BuildLoadPlan(fs billy.Filesystem, root string, requested []string) ([]ResourceFile, []Warning, error) {
	info, err := fs.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, faults.Directory(fmt.Sprintf("data directory %s", root), ErrDirectoryNotFound)
	} else if err != nil {
		return nil, nil, faults.Directory(fmt.Sprintf("unable to read data directory %s", root), err)
	}
	if !info.IsDir() {
		return nil, nil, faults.Directory(fmt.Sprintf("data directory %s", root), errors.New("not a directory"))
	}
	planner := loadPlanner{fs: fs, requested: requested}
	if err := planner.walk(root); err != nil {
		return nil, nil, err
	}
	return planner.plan, planner.warnings, nil
}

type loadPlanner struct {
	fs        billy.Filesystem
	requested []string
	plan      []ResourceFile
	warnings  []Warning
}

func (p *loadPlanner) walk(dir string) error {
	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return faults.Directory(fmt.Sprintf("unable to read directory %s", dir), err)
	}
	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	var files []ResourceFile
	var subdirs []string
	for _, entry := range entries {
		entryPath := p.fs.Join(dir, entry.Name())
		if entry.IsDir() {
			subdirs = append(subdirs, entryPath)
			continue
		}
		file, err := Classify(entryPath)
		if errors.Is(err, ErrNotJSON) {
			log.Debug().Str(logging.FieldPath, entryPath).Msg("Skipping non-JSON file")
			continue
		} else if err != nil {
			p.warn(entryPath, err.Error())
			continue
		}
		if file.UnknownTypeTag {
			p.warn(entryPath, fmt.Sprintf("%s: unknown type tag %q, loading as organization file", entryPath, file.TypeTag))
		}
		if !ContainsRequestedResources(file, p.requested) {
			log.Debug().
				Str(logging.FieldPath, entryPath).
				Strs(logging.FieldResourceType, file.ContainedResourceTypes).
				Msg("Skipping file, it contains resource types that weren't requested")
			continue
		}
		files = append(files, file)
	}
	slices.SortStableFunc(files, func(a, b ResourceFile) int {
		return cmp.Or(
			cmp.Compare(a.LoadPriority, b.LoadPriority),
			cmp.Compare(a.OrgID, b.OrgID),
			strings.Compare(a.Name(), b.Name()),
		)
	})
	p.plan = append(p.plan, files...)
	for _, subdir := range subdirs {
		if err := p.walk(subdir); err != nil {
			return err
		}
	}
	return nil
}

func (p *loadPlanner) warn(path string, message string) {
	log.Warn().Str(logging.FieldPath, path).Msg(message)
	p.warnings = append(p.warnings, Warning{Path: path, Message: message})
}

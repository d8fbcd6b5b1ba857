package fhirsync

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

type LoadReport struct {
	Files []FileResult
}

// Loaded returns the number of files that were loaded without any failure.
func (r LoadReport) Loaded() int {
	var result int
	for _, file := range r.Files {
		if !file.Failed() {
			result++
		}
	}
	return result
}

// FailedFiles returns the number of files that couldn't be read, parsed or sent.
func (r LoadReport) FailedFiles() int {
	var result int
	for _, file := range r.Files {
		if file.Err != nil {
			result++
		}
	}
	return result
}

func (r LoadReport) FailedEntries() int {
	var result int
	for _, file := range r.Files {
		result += len(file.EntryFailures)
	}
	return result
}

func (r LoadReport) Failed() bool {
	return r.FailedFiles() > 0 || r.FailedEntries() > 0
}

// Render writes a table with the files that were loaded.
func (r LoadReport) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("File", "Priority", "Entries", "Failed entries", "Error")
	for _, file := range r.Files {
		var errMsg string
		if file.Err != nil {
			errMsg = file.Err.Error()
		}
		if err := table.Append([]string{
			file.File.Path,
			strconv.Itoa(file.File.LoadPriority),
			strconv.Itoa(file.Entries),
			strconv.Itoa(len(file.EntryFailures)),
			errMsg,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

type DeleteReport struct {
	Types []TypeResult
}

func (r DeleteReport) Deleted() int {
	var result int
	for _, t := range r.Types {
		result += t.Deleted
	}
	return result
}

func (r DeleteReport) Batches() int {
	var result int
	for _, t := range r.Types {
		result += t.Batches
	}
	return result
}

func (r DeleteReport) Failed() bool {
	for _, t := range r.Types {
		if t.Failed() {
			return true
		}
	}
	return false
}

// Render writes a table with the number of deleted resources per resource type.
func (r DeleteReport) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Resource type", "Pages", "Batches", "Deleted", "Already gone", "Failed entries", "Errors")
	for _, t := range r.Types {
		if err := table.Append([]string{
			t.ResourceType,
			strconv.Itoa(t.Pages),
			strconv.Itoa(t.Batches),
			strconv.Itoa(t.Deleted),
			strconv.Itoa(t.AlreadyGone),
			strconv.Itoa(len(t.EntryFailures)),
			strconv.Itoa(len(t.Errors)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

package fhirsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SanteonNL/fhirloader/catalog"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/logging"
	libotel "github.com/SanteonNL/fhirloader/lib/otel"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FileResult is the outcome of loading a single data file.
type FileResult struct {
	File catalog.ResourceFile
	// Entries is the number of entries sent to the server.
	Entries int
	// Err is set when the file couldn't be read, parsed or sent (TransportFailure).
	Err error
	// EntryFailures are the entries that couldn't be loaded while the rest of the file was (PartialEntryFailure).
	EntryFailures []coolfhir.EntryFailure
}

func (r FileResult) Failed() bool {
	return r.Err != nil || len(r.EntryFailures) > 0
}

// LoadAll loads the files in the order of the plan. A file that fails to load is recorded in the report,
// after which the next file is loaded.
func (o *Orchestrator) LoadAll(ctx context.Context, plan []catalog.ResourceFile) LoadReport {
	var report LoadReport
	for _, file := range plan {
		report.Files = append(report.Files, o.loadFile(ctx, file))
	}
	return report
}

func (o *Orchestrator) loadFile(ctx context.Context, file catalog.ResourceFile) FileResult {
	ctx, span := o.tracer.Start(ctx, "LoadFile", trace.WithAttributes(
		attribute.String(libotel.FilePath, file.Path),
	))
	defer span.End()
	logger := log.Ctx(ctx).With().Str(logging.FieldPath, file.Path).Logger()
	result := FileResult{File: file}

	data, err := util.ReadFile(o.fs, file.Path)
	if err != nil {
		result.Err = libotel.Error(span, fmt.Errorf("unable to read file: %w", err))
		logger.Error().Err(result.Err).Msg("Failed to load file")
		return result
	}
	batch, dropped, err := UpsertBatch(data, o.tag)
	if err != nil {
		result.Err = libotel.Error(span, fmt.Errorf("invalid file contents: %w", err))
		logger.Error().Err(result.Err).Msg("Failed to load file")
		return result
	}
	result.EntryFailures = dropped
	result.Entries = len(batch.Entry)
	span.SetAttributes(attribute.Int(libotel.FHIRBundleEntryCount, len(batch.Entry)))
	if len(batch.Entry) == 0 {
		logger.Warn().Msg("File doesn't contain any resources that can be loaded")
		return result
	}

	logger.Info().Int(logging.FieldCount, len(batch.Entry)).Msg("Loading file")
	response, err := coolfhir.ExecuteBatch(ctx, o.client, batch)
	if err != nil {
		result.Err = libotel.Error(span, faults.New(faults.TransportFailure, "server rejected batch", err))
		logger.Error().Err(result.Err).Msg("Failed to load file")
		return result
	}
	result.EntryFailures = append(result.EntryFailures, fileEntryIndexes(coolfhir.FailedEntries(batch, response, coolfhir.UpsertAcceptedStatuses), dropped)...)
	for _, failure := range result.EntryFailures {
		logger.Warn().
			Str(logging.FieldEntry, failure.Request).
			Str(logging.FieldStatus, failure.Status).
			Msgf("%s: %s", faults.PartialEntryFailure, failure.Error())
	}
	if len(result.EntryFailures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d entries failed", len(result.EntryFailures)))
	}
	return result
}

// fileEntryIndexes changes the indexes of failures from the position in the batch to the position in the file,
// which differ when entries were dropped from the batch.
func fileEntryIndexes(failures []coolfhir.EntryFailure, dropped []coolfhir.EntryFailure) []coolfhir.EntryFailure {
	for i := range failures {
		for _, d := range dropped {
			if d.Index <= failures[i].Index {
				failures[i].Index++
			}
		}
	}
	return failures
}

// UpsertBatch turns the contents of a data file into a batch that creates or updates (PUT) its resources,
// each marked with the tag. A Bundle is rewritten entry by entry, any other resource becomes a one-entry batch.
// Resources without type or ID can't be PUT: they're left out of the batch and returned as failures.
func UpsertBatch(document []byte, tag coolfhir.Tag) (fhir.Bundle, []coolfhir.EntryFailure, error) {
	var resource coolfhir.Resource
	if err := json.Unmarshal(document, &resource); err != nil {
		return fhir.Bundle{}, nil, err
	}
	resources := []json.RawMessage{document}
	if resource.Type == "Bundle" {
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(document, &bundle); err != nil {
			return fhir.Bundle{}, nil, fmt.Errorf("invalid Bundle: %w", err)
		}
		resources = make([]json.RawMessage, len(bundle.Entry))
		for i, entry := range bundle.Entry {
			resources[i] = entry.Resource
		}
	}

	batch := coolfhir.Batch()
	var failures []coolfhir.EntryFailure
	for i, data := range resources {
		tagged, path, err := upsertEntry(data, tag)
		if err != nil {
			failures = append(failures, coolfhir.EntryFailure{Index: i, Reason: err.Error()})
			continue
		}
		batch.Update(tagged, path)
	}
	return batch.Bundle(), failures, nil
}

// upsertEntry returns the tagged resource and the path to PUT it at.
func upsertEntry(data json.RawMessage, tag coolfhir.Tag) (json.RawMessage, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("entry has no resource")
	}
	var resource coolfhir.Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, "", fmt.Errorf("invalid resource: %w", err)
	}
	if resource.Type == "" || resource.ID == "" {
		return nil, "", errors.New("resource has no resourceType or id")
	}
	tagged, err := coolfhir.ApplyTag(data, tag)
	if err != nil {
		return nil, "", err
	}
	return tagged, resource.Path(), nil
}

package fhirsync

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/SanteonNL/fhirloader/catalog"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/logging"
	libotel "github.com/SanteonNL/fhirloader/lib/otel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TypeResult is the outcome of deleting the tagged resources of a single resource type.
type TypeResult struct {
	ResourceType string
	// Pages is the number of search result pages retrieved.
	Pages   int
	Batches int
	// Deleted is the number of resources the server deleted.
	Deleted int
	// AlreadyGone is the number of resources that were deleted before their delete request arrived (404 or 410).
	AlreadyGone int
	// Errors contains the failed searches and batches (TransportFailure).
	Errors        []error
	EntryFailures []coolfhir.EntryFailure
}

func (r TypeResult) Failed() bool {
	return len(r.Errors) > 0 || len(r.EntryFailures) > 0
}

// DeleteAllTagged deletes all resources carrying the tag, one resource type at a time in deletion order.
// A resource type is only started when all tagged resources of the previous type have been processed.
// Failures are recorded in the report, after which deletion continues.
func (o *Orchestrator) DeleteAllTagged(ctx context.Context) DeleteReport {
	var report DeleteReport
	for _, resourceType := range catalog.DeletionOrder() {
		report.Types = append(report.Types, o.deleteAllOfType(ctx, resourceType))
	}
	return report
}

func (o *Orchestrator) deleteAllOfType(ctx context.Context, resourceType string) TypeResult {
	ctx, span := o.tracer.Start(ctx, "DeleteAllTagged", trace.WithAttributes(
		attribute.String(libotel.FHIRResourceType, resourceType),
	))
	defer span.End()
	logger := log.Ctx(ctx).With().Str(logging.FieldResourceType, resourceType).Logger()
	result := TypeResult{ResourceType: resourceType}

	// Searches are repeated until they find no resources that weren't handled before:
	// servers that page through live results (instead of a snapshot) skip resources when earlier pages are deleted.
	handled := map[string]bool{}
	for {
		found := 0
		for page, err := range o.Pages(ctx, resourceType) {
			if err != nil {
				result.Errors = append(result.Errors, libotel.Error(span, faults.New(faults.TransportFailure, "search failed", err)))
				logger.Error().Err(err).Msg("Failed to search tagged resources, skipping remaining pages")
				break
			}
			result.Pages++
			found += o.deletePage(ctx, logger, page, handled, &result)
		}
		if found == 0 {
			break
		}
	}
	span.SetAttributes(attribute.Int("fhirloader.deleted", result.Deleted))
	logger.Info().Int(logging.FieldCount, result.Deleted).Msgf("Deleted tagged %s resources", resourceType)
	return result
}

// deletePage deletes the resources on the page that weren't handled before, and returns how many there were.
func (o *Orchestrator) deletePage(ctx context.Context, logger zerolog.Logger, page fhir.Bundle, handled map[string]bool, result *TypeResult) int {
	var resources []coolfhir.Resource
	for _, resource := range coolfhir.ResourcesInBundle(page) {
		// _include'd resources are deleted when it's their type's turn
		if resource.Type != result.ResourceType || handled[resource.Path()] {
			continue
		}
		handled[resource.Path()] = true
		resources = append(resources, resource)
	}
	if len(resources) == 0 {
		return 0
	}
	batch := coolfhir.Batch()
	for _, resource := range resources {
		batch.Delete(resource.Path())
	}
	request := batch.Bundle()
	logger.Info().Int(logging.FieldCount, len(request.Entry)).Msg("Deleting batch of tagged resources")
	result.Batches++
	response, err := coolfhir.ExecuteBatch(ctx, o.client, request)
	if err != nil {
		result.Errors = append(result.Errors, faults.New(faults.TransportFailure, "server rejected delete batch", err))
		logger.Error().Err(err).Msg("Failed to delete batch of tagged resources")
		return len(resources)
	}
	failures := coolfhir.FailedEntries(request, response, coolfhir.DeleteAcceptedStatuses)
	for _, failure := range failures {
		logger.Warn().
			Str(logging.FieldEntry, failure.Request).
			Str(logging.FieldStatus, failure.Status).
			Msgf("%s: %s", faults.PartialEntryFailure, failure.Error())
	}
	result.EntryFailures = append(result.EntryFailures, failures...)
	for i, entry := range response.Entry {
		code, err := coolfhir.EntryStatusCode(entry)
		if err != nil || i >= len(request.Entry) {
			continue
		}
		switch {
		case code == 404 || code == 410:
			result.AlreadyGone++
		case slices.Contains(coolfhir.DeleteAcceptedStatuses, code):
			result.Deleted++
		}
	}
	return len(resources)
}

// Pages returns the search result pages of the tagged resources of the given type, following the next links
// until the last page. When a page can't be retrieved, the error is yielded and the sequence ends.
// Every iteration starts a new search.
func (o *Orchestrator) Pages(ctx context.Context, resourceType string) iter.Seq2[fhir.Bundle, error] {
	return func(yield func(fhir.Bundle, error) bool) {
		query := url.Values{
			"_count": []string{strconv.Itoa(o.pageSize)},
			"_tag":   []string{o.tag.SearchToken()},
		}
		if sortParameter := catalog.SortParameter(resourceType); sortParameter != "" {
			query.Set("_sort", sortParameter)
		}
		var page fhir.Bundle
		if err := o.client.SearchWithContext(ctx, resourceType, query, &page); err != nil {
			yield(fhir.Bundle{}, fmt.Errorf("search %s: %w", resourceType, err))
			return
		}
		visited := map[string]bool{}
		for {
			if !yield(page, nil) {
				return
			}
			next := coolfhir.NextLink(page)
			if next == "" {
				return
			}
			if visited[next] {
				yield(fhir.Bundle{}, fmt.Errorf("search %s: next link points to a page that was already retrieved: %s", resourceType, next))
				return
			}
			visited[next] = true
			nextURL, err := o.resolveLink(next)
			if err != nil {
				yield(fhir.Bundle{}, fmt.Errorf("search %s: invalid next link: %w", resourceType, err))
				return
			}
			page = fhir.Bundle{}
			if err := o.client.ReadWithContext(ctx, nextURL, &page); err != nil {
				yield(fhir.Bundle{}, fmt.Errorf("search %s: unable to retrieve next page: %w", resourceType, err))
				return
			}
		}
	}
}

// resolveLink makes a (relative) link absolute against the FHIR base URL. The client would otherwise join it
// to the base URL as a path, escaping its query.
func (o *Orchestrator) resolveLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return link, nil
	}
	base := *o.client.Path()
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(u).String(), nil
}

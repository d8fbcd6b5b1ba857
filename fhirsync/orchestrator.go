// Package fhirsync loads data files into a FHIR server and deletes the loaded (tagged) resources again.
// All requests are sent one at a time, in an order that never leaves a dangling reference on the server.
package fhirsync

import (
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -destination=./mock/fhirclient_mock.go -package=mock github.com/SanteonNL/go-fhir-client Client

// DefaultPageSize is the number of resources requested per search page when deleting.
const DefaultPageSize = 1000

type Orchestrator struct {
	client   fhirclient.Client
	fs       billy.Filesystem
	tag      coolfhir.Tag
	pageSize int
	tracer   trace.Tracer
}

// New creates an Orchestrator that reads data files from fs, and marks (and finds) the resources it loads with tag.
func New(client fhirclient.Client, fs billy.Filesystem, tag coolfhir.Tag, pageSize int) *Orchestrator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Orchestrator{
		client:   client,
		fs:       fs,
		tag:      tag,
		pageSize: pageSize,
		tracer:   otel.Tracer("fhirloader/fhirsync"),
	}
}

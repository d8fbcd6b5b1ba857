package otel

// Common attribute keys used across packages
const (
	// HTTP attributes
	HTTPMethod     = "http.method"
	HTTPURL        = "http.url"
	HTTPStatusCode = "http.status_code"
	HTTPStatusText = "http.status_text"

	// FHIR attributes
	FHIRResourceType     = "fhir.resource_type"
	FHIRBundleType       = "fhir.bundle.type"
	FHIRBundleEntryCount = "fhir.bundle.entry_count"

	// Run attributes
	RunID    = "fhirloader.run_id"
	FilePath = "fhirloader.file.path"
)

package logging

// Common log field keys used throughout the application
const (
	FieldCount        = "count"
	FieldEntry        = "entry"
	FieldFolder       = "folder"
	FieldOrgID        = "org_id"
	FieldPath         = "path"
	FieldPhase        = "phase"
	FieldPriority     = "priority"
	FieldResourceID   = "resource_id"
	FieldResourceType = "resource_type"
	FieldRunID        = "run_id"
	FieldStatus       = "status"
	FieldTag          = "tag"
	FieldUrl          = "url"
)

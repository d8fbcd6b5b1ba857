package faults

import "errors"

type Category string

const (
	// SetupError means the tool can't talk to the FHIR server at all (bad URL, DNS, metadata probe).
	SetupError Category = "SetupError"
	// DirectoryError means the data directory can't be read.
	DirectoryError Category = "DirectoryError"
	// ClassificationWarning means a file name could not be (fully) classified.
	ClassificationWarning Category = "ClassificationWarning"
	// TransportFailure means the FHIR server rejected a batch with a non-2xx status.
	TransportFailure Category = "TransportFailure"
	// PartialEntryFailure means the batch was accepted, but one or more of its entries failed.
	PartialEntryFailure Category = "PartialEntryFailure"
	// RunFailure means the run completed, but files, batches or entries failed and strict mode is enabled.
	RunFailure Category = "RunFailure"
)

type TypedError struct {
	Category Category
	Message  string
	Cause    error
}

func (e *TypedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" && e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Category)
}

func (e *TypedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(category Category, message string, cause error) *TypedError {
	return &TypedError{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

func Setup(message string, cause error) error {
	return New(SetupError, message, cause)
}

func Directory(message string, cause error) error {
	return New(DirectoryError, message, cause)
}

func IsCategory(err error, category Category) bool {
	if err == nil {
		return false
	}
	var typedErr *TypedError
	if !errors.As(err, &typedErr) {
		return false
	}
	return typedErr.Category == category
}

// ExitCode maps an error returned from a run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var typedErr *TypedError
	if !errors.As(err, &typedErr) {
		return 1
	}
	switch typedErr.Category {
	case SetupError:
		return 2
	case DirectoryError:
		return 3
	case RunFailure:
		return 4
	default:
		return 1
	}
}

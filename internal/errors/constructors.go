package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *MatrixCIError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *MatrixCIError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Run execution errors

func RunFailed(step string, cause error) *MatrixCIError {
	return Wrap(cause, CategoryPipeline, SeverityFatal, "run failed").
		WithContext("step", step)
}

func WorkspaceError(operation string, cause error) *MatrixCIError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

// Internal errors

func InternalError(message string, cause error) *MatrixCIError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}

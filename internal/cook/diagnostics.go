package cook

import "fmt"

// Severity grades a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the severity's report label.
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic codes. Cancellation has a dedicated code so callers can
// distinguish it from failure.
const (
	CodeCancelled           = "cancelled"
	CodeValidation          = "validation"
	CodeDecodeFailed        = "decode_failed"
	CodeMissingDependency   = "missing_dependency"
	CodeIOFailure           = "io_failure"
	CodeReservationOverflow = "reservation_overflow"
	CodeUnsupported         = "unsupported"
)

// Diagnostic is one accumulated finding against a cooked item. Diagnostics
// are never silently dropped; the job report carries all of them.
type Diagnostic struct {
	Severity   Severity
	Code       string
	Message    string
	SourcePath string
	ObjectPath string
}

func (d Diagnostic) String() string {
	location := d.SourcePath
	if d.ObjectPath != "" {
		if location != "" {
			location += "#"
		}
		location += d.ObjectPath
	}
	if location == "" {
		return fmt.Sprintf("%s [%s]: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s: %s", d.Severity, d.Code, location, d.Message)
}

// Errorf builds an error diagnostic.
func Errorf(code, sourcePath, objectPath, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity:   SeverityError,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		SourcePath: sourcePath,
		ObjectPath: objectPath,
	}
}

// Warnf builds a warning diagnostic.
func Warnf(code, sourcePath, objectPath, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity:   SeverityWarning,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		SourcePath: sourcePath,
		ObjectPath: objectPath,
	}
}

// HasErrors reports whether any diagnostic in the list is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

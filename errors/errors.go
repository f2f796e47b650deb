package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	KindModuleNotFound   Kind = "module_not_found"
	KindCompilation      Kind = "compilation"
	KindResourceExceeded Kind = "resource_exceeded"
	KindTrap             Kind = "trap"
	KindSerialization    Kind = "serialization"
	KindHostCall         Kind = "host_call"
)

// Resource names the exhausted budget dimension for KindResourceExceeded.
type Resource string

const (
	ResourceNone    Resource = ""
	ResourceFuel    Resource = "fuel"
	ResourceMemory  Resource = "memory"
	ResourceTimeout Resource = "timeout"
)

// Error is the structured error type used throughout the runtime.
type Error struct {
	Kind     Kind
	Resource Resource // set only for KindResourceExceeded
	ModuleID string
	Detail   string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	if e.Resource != ResourceNone {
		b.WriteByte(':')
		b.WriteString(string(e.Resource))
	}
	b.WriteByte(']')

	if e.ModuleID != "" {
		b.WriteString(" module ")
		b.WriteString(fmt.Sprintf("%q", e.ModuleID))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two *Errors match when
// their Kind matches and, if the target names a Resource, that matches too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Resource == ResourceNone || e.Resource == t.Resource
}

// ModuleNotFound reports that no module is published under id.
func ModuleNotFound(id string) *Error {
	return &Error{Kind: KindModuleNotFound, ModuleID: id}
}

// Compilation reports a malformed or unverifiable artifact at load time.
func Compilation(id, detail string, cause error) *Error {
	return &Error{Kind: KindCompilation, ModuleID: id, Detail: detail, Cause: cause}
}

// ResourceExceeded reports an exhausted budget dimension.
func ResourceExceeded(id string, r Resource) *Error {
	return &Error{Kind: KindResourceExceeded, Resource: r, ModuleID: id}
}

// Trap reports a guest fault caught at the sandbox boundary.
func Trap(id string, cause error) *Error {
	return &Error{Kind: KindTrap, ModuleID: id, Cause: cause}
}

// Serialization reports a malformed marshaling payload or an invalid
// guest-provided pointer/length pair.
func Serialization(id, detail string, cause error) *Error {
	return &Error{Kind: KindSerialization, ModuleID: id, Detail: detail, Cause: cause}
}

// HostCall reports a failed Host API operation.
func HostCall(op string, cause error) *Error {
	return &Error{Kind: KindHostCall, Detail: op, Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	return stderrors.Is(err, &Error{Kind: k})
}

// IsResourceExceeded reports whether err is a resource-exceeded error for
// the given dimension. Pass ResourceNone to match any dimension.
func IsResourceExceeded(err error, r Resource) bool {
	return stderrors.Is(err, &Error{Kind: KindResourceExceeded, Resource: r})
}

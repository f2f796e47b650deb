package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Kind:     KindResourceExceeded,
				Resource: ResourceFuel,
				ModuleID: "waf-owasp",
				Detail:   "budget exhausted",
			},
			contains: []string{"[resource_exceeded:fuel]", `"waf-owasp"`, "budget exhausted"},
		},
		{
			name:     "minimal error",
			err:      &Error{Kind: KindTrap},
			contains: []string{"[trap]"},
		},
		{
			name: "error with cause",
			err: &Error{
				Kind:   KindCompilation,
				Detail: "compile failed",
				Cause:  stderrors.New("unexpected opcode"),
			},
			contains: []string{"[compilation]", "compile failed", "caused by", "unexpected opcode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	fuel := ResourceExceeded("m", ResourceFuel)

	if !stderrors.Is(fuel, &Error{Kind: KindResourceExceeded}) {
		t.Error("kind-only target should match any resource dimension")
	}
	if !stderrors.Is(fuel, &Error{Kind: KindResourceExceeded, Resource: ResourceFuel}) {
		t.Error("exact dimension should match")
	}
	if stderrors.Is(fuel, &Error{Kind: KindResourceExceeded, Resource: ResourceTimeout}) {
		t.Error("wrong dimension should not match")
	}
	if stderrors.Is(fuel, &Error{Kind: KindTrap}) {
		t.Error("different kind should not match")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("backend unavailable")
	err := HostCall("cache_get", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is did not reach the cause")
	}
}

func TestHelpers(t *testing.T) {
	if !IsKind(ModuleNotFound("x"), KindModuleNotFound) {
		t.Error("IsKind failed for ModuleNotFound")
	}
	if !IsResourceExceeded(ResourceExceeded("m", ResourceTimeout), ResourceNone) {
		t.Error("ResourceNone should match any dimension")
	}
	if IsResourceExceeded(Trap("m", nil), ResourceNone) {
		t.Error("trap is not resource exhaustion")
	}
}

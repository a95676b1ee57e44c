package cli

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestExitCodeNilIsSuccess(t *testing.T) {
	if code := ExitCode(nil); code != ExitSuccess {
		t.Fatalf("got %d, want ExitSuccess", code)
	}
}

func TestExitCodeBuildFailureUnwraps(t *testing.T) {
	err := errors.Wrap(&BuildFailureError{Err: fmt.Errorf("boom")}, "build")
	if code := ExitCode(err); code != ExitBuildFailure {
		t.Fatalf("got %d, want ExitBuildFailure", code)
	}
}

func TestExitCodeOtherErrorIsInternal(t *testing.T) {
	if code := ExitCode(fmt.Errorf("whatever")); code != ExitInternalError {
		t.Fatalf("got %d, want ExitInternalError", code)
	}
}

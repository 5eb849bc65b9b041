package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestIs_MatchesSentinelOfSameKind(t *testing.T) {
	err := New(KindNotFound, "Acme/DC1", "node does not exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("not_found must not match conflict")
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("nodeservice: %w", WithOp("save", New(KindBusy, "a", "lock timeout")))
	if !errors.Is(err, ErrBusy) {
		t.Fatal("wrapped busy error should match ErrBusy")
	}
	if KindOf(err) != KindBusy {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	err := Wrap(KindIOFailure, "a/b", fs.ErrPermission)
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("cause should remain reachable")
	}
	if Wrap(KindIOFailure, "a", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWithOp_ClassifiesPlainErrors(t *testing.T) {
	err := WithOp("read", errors.New("disk on fire"))
	if KindOf(err) != KindIOFailure {
		t.Errorf("kind = %q, want io_failure", KindOf(err))
	}
}

// reasoned stands in for an outer error type that carries its own fields.
type reasoned struct {
	reason string
	inner  error
}

func (r *reasoned) Error() string { return r.inner.Error() }
func (r *reasoned) Unwrap() error { return r.inner }

func TestWithOp_KeepsOuterTypesReachable(t *testing.T) {
	err := WithOp("create", &reasoned{
		reason: "wrong_type_at_root",
		inner:  &Error{Kind: KindDisallowedPlacement, Msg: "only company nodes may be created at the root"},
	})

	var r *reasoned
	if !errors.As(err, &r) || r.reason != "wrong_type_at_root" {
		t.Fatalf("errors.As lost the outer error: %v", err)
	}
	if !errors.Is(err, ErrDisallowedPlacement) {
		t.Error("kind should still match its sentinel")
	}
	want := "create: only company nodes may be created at the root"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorMessage(t *testing.T) {
	err := WithOp("delete", New(KindNotEmpty, "Acme", "node has 2 children"))
	want := `delete "Acme": node has 2 children`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = Wrap(KindIOFailure, "Acme", fs.ErrPermission)
	if want := `"Acme": permission denied`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestRetryableAndValidation(t *testing.T) {
	if !Retryable(ErrConflict) || !Retryable(ErrBusy) {
		t.Error("conflict and busy are retryable")
	}
	if Retryable(ErrCorruptNode) {
		t.Error("corrupt_node is not retryable")
	}
	for _, k := range []Kind{KindInvalidPath, KindPathTraversal, KindDisallowedPlacement, KindCyclicMove, KindNameCollision} {
		if !Validation(&Error{Kind: k, Msg: "x"}) {
			t.Errorf("%s should be a validation error", k)
		}
	}
	if Validation(ErrIOFailure) {
		t.Error("io_failure is not a validation error")
	}
}

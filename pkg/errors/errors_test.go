package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrapIfNeededKeepsExistingTaxonomy(t *testing.T) {
	orig := SessionLocked("s1")
	wrapped := WrapIfNeeded(orig, CategoryStorage, CodeStorageFailure, "boundary")
	if wrapped.Code != CodeSessionLocked {
		t.Errorf("Code = %s, want %s", wrapped.Code, CodeSessionLocked)
	}
	if wrapped.Suggestion == "" {
		t.Error("suggestion dropped on passthrough")
	}
}

func TestWrapIfNeededWrapsPlainErrors(t *testing.T) {
	plain := stderrors.New("disk full")
	wrapped := WrapIfNeeded(plain, CategoryStorage, CodeStorageFailure, "boundary")
	if wrapped.Code != CodeStorageFailure {
		t.Errorf("Code = %s, want %s", wrapped.Code, CodeStorageFailure)
	}
	if !stderrors.Is(wrapped, plain) {
		t.Error("cause not preserved in the chain")
	}
}

func TestWrapIfNeededNil(t *testing.T) {
	if WrapIfNeeded(nil, CategoryStorage, CodeStorageFailure, "boundary") != nil {
		t.Error("nil in must be nil out")
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := PostingNotFound("p1")
	outer := Wrap(inner, CategoryStorage, CodeStorageFailure, "load failed")
	if !HasCode(outer, CodeStorageFailure) {
		t.Error("outer code not visible")
	}
	if !stderrors.Is(outer, inner) {
		t.Error("inner error not in the chain")
	}
}

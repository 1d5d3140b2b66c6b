package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

var errBase = stderrors.New("base")

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	wrapped := Wrap(errBase, "context")
	if wrapped.Error() != "context: base" {
		t.Fatalf("Error() = %q", wrapped.Error())
	}
	if !Is(wrapped, errBase) {
		t.Fatal("wrapped error should match base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
	wrapped := Wrapf(errBase, "入库 %s 失败", "a.pdf")
	if wrapped.Error() != "入库 a.pdf 失败: base" {
		t.Fatalf("Error() = %q", wrapped.Error())
	}
	if !Is(wrapped, errBase) {
		t.Fatal("wrapped error should match base")
	}
}

func TestHint(t *testing.T) {
	other := New("other")
	if Hint(nil, errBase, "h") != nil {
		t.Fatal("Hint(nil) should return nil")
	}
	if got := Hint(other, errBase, "h"); got != other {
		t.Fatalf("unrelated error should pass through, got %v", got)
	}
	got := Hint(Wrap(errBase, "ctx"), errBase, "请先入库")
	if !strings.Contains(got.Error(), "请先入库") || !Is(got, errBase) {
		t.Fatalf("Hint = %v", got)
	}
}

func TestJoin(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Fatal("Join of nils should be nil")
	}
	joined := Join(errBase, nil)
	if !Is(joined, errBase) {
		t.Fatal("joined error should match base")
	}
}

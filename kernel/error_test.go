package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
		Kind:    NoMemory,
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}

	if !IsKind(err, NoMemory) {
		t.Fatal("expected IsKind to match the error kind")
	}

	if IsKind(err, BadState) {
		t.Fatal("expected IsKind to reject a different kind")
	}

	if IsKind(nil, NoMemory) {
		t.Fatal("expected IsKind to return false for a nil error")
	}
}

func TestKindString(t *testing.T) {
	specs := []struct {
		kind Kind
		exp  string
	}{
		{Internal, "internal"},
		{InvalidArgument, "invalid argument"},
		{NotFound, "not found"},
		{NoMemory, "no memory"},
		{BadState, "bad state"},
		{Kind(0xff), "internal"},
	}

	for specIndex, spec := range specs {
		if got := spec.kind.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

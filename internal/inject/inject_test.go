package inject

import (
	"context"
	"testing"
)

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"type", "paste"} {
		m, err := ParseMethod(s)
		if err != nil {
			t.Fatalf("ParseMethod(%q) error = %v", s, err)
		}
		if string(m) != s {
			t.Errorf("ParseMethod(%q) = %q", s, m)
		}
	}
	if _, err := ParseMethod("telepathy"); err == nil {
		t.Error("ParseMethod should reject unknown methods")
	}
}

func TestInsertEmptyTextIsNoOp(t *testing.T) {
	inj := New(MethodType, false)
	if err := inj.Insert(context.Background(), ""); err != nil {
		t.Fatalf("Insert(\"\") error = %v", err)
	}
}

func TestInsertHonorsCancelledContext(t *testing.T) {
	inj := New(MethodType, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := inj.Insert(ctx, "should not be typed"); err == nil {
		t.Fatal("Insert with a cancelled context must not deliver text")
	}
}

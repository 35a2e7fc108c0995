package factory

import (
	"errors"
	"testing"
	"time"
)

type sample struct {
	A       int
	Timeout time.Duration
}

type sampleConf struct {
	A       int           `json:"a"`
	Timeout time.Duration `json:"timeout"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A, Timeout: c.Timeout}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": "3", "timeout": "2s"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
	if inst.Timeout != 2*time.Second {
		t.Fatalf("expected 2s got %s", inst.Timeout)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "y"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if got := reg.Types(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("unexpected types %v", got)
	}
}

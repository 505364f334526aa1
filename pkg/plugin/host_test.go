package plugin

import (
	"context"
	"testing"
)

type nopPlugin struct{}

func (nopPlugin) Name() string                    { return "nop" }
func (nopPlugin) Version() string                 { return "0.0.1" }
func (nopPlugin) Description() string             { return "does nothing" }
func (nopPlugin) Init(context.Context, API) error { return nil }
func (nopPlugin) Start() error                    { return nil }
func (nopPlugin) Stop() error                     { return nil }

func TestAsPlugin(t *testing.T) {
	if _, err := asPlugin(nil); err == nil {
		t.Fatal("nil dispense result must be a load error")
	}
	if _, err := asPlugin(42); err == nil {
		t.Fatal("non-plugin dispense result must be a load error")
	}

	p, err := asPlugin(nopPlugin{})
	if err != nil {
		t.Fatalf("valid plugin rejected: %v", err)
	}
	if p.Name() != "nop" {
		t.Fatalf("wrong plugin dispensed: %s", p.Name())
	}
}

func TestHostStartUnknownPlugin(t *testing.T) {
	h := NewHost("", nil)
	if err := h.Start("missing"); err == nil {
		t.Fatal("starting an unloaded plugin must fail")
	}
	if err := h.LoadAll(); err != nil {
		t.Fatalf("empty plugin dir must be a no-op: %v", err)
	}
}

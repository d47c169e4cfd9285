package handlers

import (
	"testing"

	"github.com/callkaidsroofing/gem/pkg/registry"
)

func TestDispatcher_CoversEveryRegistryTool(t *testing.T) {
	r, err := registry.Load("../../registry/tools.yaml")
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	d := NewDispatcher()

	for _, tool := range r.All() {
		if _, err := d.Resolve(tool.Name); err != nil {
			t.Errorf("registry tool %q has no dispatcher entry: %v", tool.Name, err)
		}
	}
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d := NewDispatcher()
	if _, err := d.Resolve("does.not.exist"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

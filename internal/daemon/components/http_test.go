package components

import (
	"testing"

	"github.com/sorrel-ai/hearth/internal/config"
)

func TestNewHTTPServerComponent_DefaultDependencies(t *testing.T) {
	comp := NewHTTPServerComponent(nil, &config.ServerConfig{Port: 8080})
	deps := comp.Dependencies()

	want := []string{"Kernel"}
	if len(deps) != len(want) {
		t.Fatalf("dependencies length = %d, want %d", len(deps), len(want))
	}
	for i := range want {
		if deps[i] != want[i] {
			t.Fatalf("dependency[%d] = %s, want %s", i, deps[i], want[i])
		}
	}
}

func TestNewHTTPServerComponentWithDependencies_Copy(t *testing.T) {
	custom := []string{"Kernel"}
	comp := NewHTTPServerComponentWithDependencies(nil, &config.ServerConfig{Port: 8080}, custom)

	custom[0] = "Mutated"

	deps := comp.Dependencies()
	if len(deps) != 1 {
		t.Fatalf("dependencies length = %d, want 1", len(deps))
	}
	if deps[0] != "Kernel" {
		t.Fatalf("dependency = %s, want Kernel", deps[0])
	}

	deps[0] = "MutatedAgain"
	if comp.Dependencies()[0] != "Kernel" {
		t.Fatal("Dependencies() must return a copy")
	}
}

package common

import (
	"errors"
	"strings"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "promise"); err != nil {
		t.Fatalf("nil view must not block, got %v", err)
	}
	view := pauseMap{"promise": true}
	err := Guard(view, "promise")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if !strings.Contains(err.Error(), "promise") {
		t.Fatalf("error should name the paused module, got %v", err)
	}
	if err := Guard(view, "farm"); err != nil {
		t.Fatalf("unpaused module must pass, got %v", err)
	}
	if err := Guard(view, ""); err != nil {
		t.Fatalf("empty module must pass, got %v", err)
	}
}

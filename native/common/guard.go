// Package common holds the small helpers shared by the native ledger
// engines.
package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by Guard when the named module has been
// administratively halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports which native modules are halted. The promise and
// farm engines consult it at the top of every mutating entry point.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when module is paused in p. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

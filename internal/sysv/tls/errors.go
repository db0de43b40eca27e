package tls

import "fmt"

// MissingEntryError reports an absent shared-map entry the TLS subsystem
// depends on (usually a phase-ordering mistake in a custom chain).
type MissingEntryError struct {
	Key string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("tls: shared map entry %q missing", e.Key)
}

// InvalidModuleError reports a TLS module id with no collected module.
type InvalidModuleError struct {
	ID int
}

func (e *InvalidModuleError) Error() string {
	return fmt.Sprintf("tls: invalid module id %d", e.ID)
}

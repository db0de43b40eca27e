package manifold

import (
	"debug/elf"
	"errors"
	"fmt"
)

// ErrInvalidELF reports a rejected image: bad magic or bad version.
var ErrInvalidELF = errors.New("invalid ELF image")

// ErrBadLink reports a section whose sh_link does not index a live section
// of its object.
var ErrBadLink = errors.New("linked section missing")

// SymbolNotFoundError reports a failed global symbol lookup.
type SymbolNotFoundError struct {
	Name string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found", e.Name)
}

// SectionCastError reports a tag-checked view requested on a section of the
// wrong type.
type SectionCastError struct {
	Expected elf.SectionType
	Actual   elf.SectionType
}

func (e *SectionCastError) Error() string {
	return fmt.Sprintf("section cast: expected %v, got %v", e.Expected, e.Actual)
}

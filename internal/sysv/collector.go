// Package sysv contains the pipeline modules that load System V ABI
// executables: dependency collection, segment loading, relocation, memory
// protection, init arrays and control transfer.
package sysv

import (
	"debug/elf"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// CollectorEntry records one loaded dependency.
type CollectorEntry struct {
	// Name of the dependency as resolved (after remapping).
	Name string
	// Handle to the ingested object.
	Obj arena.Handle[manifold.Object]
}

// Shared-map keys the collector consumes and publishes.
var (
	// SearchPathsKey holds the ordered library probe list.
	SearchPathsKey = share.NewKey[[]string]("sysv-collector-search-paths")
	// RemapKey holds the dependency remap table: longest-prefix keys map to
	// a substitute name, or to nil to drop the dependency.
	RemapKey = share.NewKey[map[string]*string]("sysv-collector-remap")
	// ResultKey holds the running list of loaded dependencies.
	ResultKey = share.NewKey[[]CollectorEntry]("sysv-collector-result")
)

// DependencyNotFoundError reports a needed library absent from every search
// path.
type DependencyNotFoundError struct {
	Name   string
	Probes error
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("dependency %q not found in any search path", e.Name)
}

func (e *DependencyNotFoundError) Unwrap() error {
	return e.Probes
}

// Collector reads DT_NEEDED entries from .dynamic sections, applies the
// remap table, and ingests each new dependency into the manifold. No
// recursion is needed: dependencies ingested here are appended to the object
// arena, so the driver hands them back to this same module before the phase
// ends.
type Collector struct{}

// NewCollector creates the remapping collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Name implements pipeline.Module.
func (c *Collector) Name() string {
	return "sysv-collector"
}

// ProcessSection implements pipeline.SectionProcessor for SHT_DYNAMIC
// sections.
func (c *Collector) ProcessSection(m *manifold.Manifold, hsec arena.Handle[manifold.Section]) error {
	sec := m.Sections.MustGet(hsec)
	hobj := sec.Obj

	deps := share.GetOr(&m.Shared, ResultKey, nil)
	remap := share.GetOr(&m.Shared, RemapKey, nil)

	needed, err := readNeeded(m, sec)
	if err != nil {
		return err
	}

	m.Log.Debug("collecting", log.Obj(m.Objects.MustGet(hobj).DisplayPath()))

	for _, name := range needed {
		name, dropped := remapName(remap, name)
		if dropped {
			continue
		}
		if already(deps, name) {
			continue
		}

		obj, err := c.load(m, name)
		if err != nil {
			return err
		}
		m.Objects.MustGet(hobj).Dependencies = append(m.Objects.MustGet(hobj).Dependencies, obj)
		deps = append(deps, CollectorEntry{Name: name, Obj: obj})
	}

	share.Put(&m.Shared, ResultKey, deps)
	return nil
}

// load probes the search paths for name, then opens, maps and ingests it.
func (c *Collector) load(m *manifold.Manifold, name string) (arena.Handle[manifold.Object], error) {
	paths, ok := share.Get(&m.Shared, SearchPathsKey)
	if !ok {
		return arena.Invalid[manifold.Object](), fmt.Errorf("search paths not set")
	}

	var probes error
	for _, dir := range paths {
		candidate := strings.TrimSuffix(dir, "/") + "/" + name
		var st unix.Stat_t
		if err := unix.Stat(candidate, &st); err != nil {
			probes = multierr.Append(probes, fmt.Errorf("%s: %w", candidate, err))
			continue
		}

		fd, err := mem.OpenFileRO(candidate)
		if err != nil {
			return arena.Invalid[manifold.Object](), err
		}
		mapping, err := mem.MapFile(fd)
		if err != nil {
			return arena.Invalid[manifold.Object](), err
		}
		obj, err := m.AddELFFile(mapping, candidate)
		if err != nil {
			return arena.Invalid[manifold.Object](), fmt.Errorf("%s: %w", candidate, err)
		}
		m.Log.Info("loaded dependency", log.Obj(candidate))
		return obj, nil
	}

	return arena.Invalid[manifold.Object](), &DependencyNotFoundError{Name: name, Probes: probes}
}

// readNeeded returns the DT_NEEDED names of a .dynamic section, resolved
// through its linked string table.
func readNeeded(m *manifold.Manifold, sec *manifold.Section) ([]string, error) {
	linked, err := sec.Linked(m)
	if err != nil {
		return nil, err
	}
	strtab, err := linked.AsStringTable()
	if err != nil {
		return nil, err
	}

	dyns, err := manifold.SectionTable(sec, elfview.DynSize, elfview.DecodeDyn)
	if err != nil {
		return nil, err
	}

	var needed []string
	for _, d := range dyns.All() {
		if d.Tag == int64(elf.DT_NULL) {
			break
		}
		if d.Tag != int64(elf.DT_NEEDED) {
			continue
		}
		name, err := strtab.Lookup(int(d.Val))
		if err != nil {
			return nil, err
		}
		needed = append(needed, name)
	}
	return needed, nil
}

// remapName applies the longest-prefix remap rule to a needed name. The
// second return is true when the dependency is dropped.
func remapName(remap map[string]*string, name string) (string, bool) {
	best := ""
	for prefix := range remap {
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return name, false
	}
	if v := remap[best]; v != nil {
		return *v, false
	}
	return "", true
}

func already(deps []CollectorEntry, name string) bool {
	for _, d := range deps {
		if d.Name == name {
			return true
		}
	}
	return false
}

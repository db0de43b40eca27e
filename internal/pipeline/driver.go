package pipeline

import (
	"fmt"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/filter"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/trace"
)

// Phase is one step in the pipeline: a named (module, filter) pair.
type Phase struct {
	Name   string
	Module Module
	Filter filter.Filter
}

// Fold is the pipeline driver: an ordered list of phases executed over one
// manifold. Phases run strictly in list order; within a phase the manifold
// hook (if selected) runs first, then objects are visited in load order
// using the handle-generator idiom, so objects appended by a module during
// the phase are visited before the phase terminates.
type Fold struct {
	target string
	env    *manifold.Env
	shared share.Map
	phases []Phase
	log    *log.Logger
	rec    *trace.Recorder
}

// New creates an empty pipeline for the given target path.
func New(target string, env *manifold.Env, logger *log.Logger) *Fold {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Fold{
		target: target,
		env:    env,
		log:    logger,
		rec:    trace.NewRecorder(),
	}
}

// ShareMap returns the map used to seed the manifold's shared state. Mutate
// it before Run.
func (f *Fold) ShareMap() *share.Map {
	return &f.shared
}

// Trace returns the pipeline's event recorder.
func (f *Fold) Trace() *trace.Recorder {
	return f.rec
}

// Register appends a phase.
func (f *Fold) Register(name string, mod Module, filt filter.Filter) *Fold {
	f.phases = append(f.phases, Phase{Name: name, Module: mod, Filter: filt})
	return f
}

// Phases returns the phase names in execution order.
func (f *Fold) Phases() []string {
	names := make([]string, len(f.phases))
	for i, p := range f.phases {
		names[i] = p.Name
	}
	return names
}

// ————————————————————————————————— Cursors ————————————————————————————————— //

// Cursor is a position in the phase list, obtained from Select, Front or
// Back. Register inserts at the cursor; Delete and Replace act on the phase
// the cursor points at.
type Cursor struct {
	fold *Fold
	idx  int
}

// Select returns a cursor pointing at the named phase.
func (f *Fold) Select(name string) (*Cursor, error) {
	for i, p := range f.phases {
		if p.Name == name {
			return &Cursor{fold: f, idx: i}, nil
		}
	}
	return nil, fmt.Errorf("no phase named %q", name)
}

// Front returns a cursor at the head of the phase list.
func (f *Fold) Front() *Cursor {
	return &Cursor{fold: f, idx: 0}
}

// Back returns a cursor past the tail of the phase list.
func (f *Fold) Back() *Cursor {
	return &Cursor{fold: f, idx: len(f.phases)}
}

// Register inserts a new phase at the cursor position.
func (c *Cursor) Register(name string, mod Module, filt filter.Filter) *Fold {
	f := c.fold
	f.phases = append(f.phases, Phase{})
	copy(f.phases[c.idx+1:], f.phases[c.idx:])
	f.phases[c.idx] = Phase{Name: name, Module: mod, Filter: filt}
	return f
}

// Delete removes the phase at the cursor.
func (c *Cursor) Delete() *Fold {
	f := c.fold
	f.phases = append(f.phases[:c.idx], f.phases[c.idx+1:]...)
	return f
}

// Replace swaps the phase at the cursor for a new one.
func (c *Cursor) Replace(name string, mod Module, filt filter.Filter) *Fold {
	c.fold.phases[c.idx] = Phase{Name: name, Module: mod, Filter: filt}
	return c.fold
}

// Before returns a cursor inserting before the phase.
func (c *Cursor) Before() *Cursor {
	return &Cursor{fold: c.fold, idx: c.idx}
}

// After returns a cursor inserting after the phase.
func (c *Cursor) After() *Cursor {
	return &Cursor{fold: c.fold, idx: c.idx + 1}
}

// ————————————————————————————————— Running ————————————————————————————————— //

// Run maps the target, seeds the manifold and executes every phase. On a
// module error the driver has already logged the failing phase, module and
// object; the caller terminates the process — a partially-loaded address
// space cannot be recovered.
func (f *Fold) Run() error {
	m := manifold.New(f.env, f.shared, f.log)

	f.log.Info("target", log.Obj(f.target))
	fd, err := mem.OpenFileRO(f.target)
	if err != nil {
		return err
	}
	mapping, err := mem.MapFile(fd)
	if err != nil {
		return err
	}
	if _, err := m.AddELFFile(mapping, f.target); err != nil {
		return fmt.Errorf("%s: %w", f.target, err)
	}

	return f.Execute(m)
}

// Execute runs every phase over a prepared manifold.
func (f *Fold) Execute(m *manifold.Manifold) error {
	for i := range f.phases {
		p := &f.phases[i]
		f.log.Phase(p.Name)
		f.rec.Record(trace.PhaseBegin, p.Name, p.Module.Name(), "")
		if err := f.runPhase(p, m); err != nil {
			f.log.Error(fmt.Sprintf("phase %q failed: %v", p.Name, err))
			return err
		}
		f.rec.Record(trace.PhaseEnd, p.Name, p.Module.Name(), "")
	}
	return nil
}

func (f *Fold) runPhase(p *Phase, m *manifold.Manifold) error {
	// Manifold hook first, exactly once.
	if p.Filter.MatchesManifold() {
		mp, ok := p.Module.(ManifoldProcessor)
		if !ok {
			f.log.MissingHook(p.Module.Name(), "manifold")
		} else if err := mp.ProcessManifold(m); err != nil {
			return fmt.Errorf("module %q: manifold: %w", p.Module.Name(), err)
		}
	}

	// The handle generator yields handles past the current arena length;
	// stopping at the first miss processes objects appended mid-phase in
	// this same phase.
	for h := range arena.Handles[manifold.Object]() {
		obj := m.Objects.Get(h)
		if obj == nil {
			break
		}
		if err := f.applyToObject(p, m, h, obj); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fold) applyToObject(p *Phase, m *manifold.Manifold, h arena.Handle[manifold.Object], obj *manifold.Object) error {
	name := p.Module.Name()

	if p.Filter.MatchesObject(obj) {
		op, ok := p.Module.(ObjectProcessor)
		if !ok {
			f.log.MissingHook(name, "object")
		} else {
			f.log.ModuleApply(name, "object", obj.DisplayPath())
			f.rec.Record(trace.Apply, p.Name, name, obj.DisplayPath())
			if err := op.ProcessObject(m, h); err != nil {
				return fmt.Errorf("module %q: object %s: %w", name, obj.DisplayPath(), err)
			}
		}
	}

	if p.Filter.IsSegmentFilter() {
		// Walk by index and re-read the list length on every step so that
		// segments added mid-phase are visited.
		for idx := 0; idx < len(obj.Segments); idx++ {
			hseg := obj.Segments[idx]
			seg := m.Segments.Get(hseg)
			if seg == nil || !p.Filter.MatchesSegment(obj, seg) {
				continue
			}
			sp, ok := p.Module.(SegmentProcessor)
			if !ok {
				f.log.MissingHook(name, "segment")
				break
			}
			if err := sp.ProcessSegment(m, hseg); err != nil {
				return fmt.Errorf("module %q: segment #%d of %s: %w", name, idx, obj.DisplayPath(), err)
			}
		}
	}

	if p.Filter.IsSectionFilter() {
		for idx := 0; idx < len(obj.Sections); idx++ {
			hsec := obj.Sections[idx]
			sec := m.Sections.Get(hsec)
			if sec == nil || !p.Filter.MatchesSection(obj, sec) {
				continue
			}
			sp, ok := p.Module.(SectionProcessor)
			if !ok {
				f.log.MissingHook(name, "section")
				break
			}
			if err := sp.ProcessSection(m, hsec); err != nil {
				return fmt.Errorf("module %q: section #%d of %s: %w", name, idx, obj.DisplayPath(), err)
			}
		}
	}

	return nil
}

// Package pipeline contains the module contract and the Fold driver that
// orchestrates modules over a manifold.
package pipeline

import (
	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/manifold"
)

// Module is a step of the linker's execution. A module exposes a stable
// display name and implements any of the four optional hook interfaces
// below; the driver applies the hooks the registered filter selects. When a
// filter selects a hook the module does not implement, the driver logs a
// warning, mirroring the default-hook behaviour modules rely on.
//
// Modules are stateful: the driver holds one value per phase and calls its
// hooks through the same pointer for the whole run.
type Module interface {
	// Name returns the display name used for logging and trace events; phases
	// are looked up by the name they were registered under, not by this one.
	Name() string
}

// ManifoldProcessor processes the whole manifold. Called at most once per
// phase, before any per-object iteration.
type ManifoldProcessor interface {
	ProcessManifold(m *manifold.Manifold) error
}

// ObjectProcessor processes one object. Never called twice with the same
// object within a phase.
type ObjectProcessor interface {
	ProcessObject(m *manifold.Manifold, obj arena.Handle[manifold.Object]) error
}

// SegmentProcessor processes one segment. Never called twice with the same
// segment within a phase.
type SegmentProcessor interface {
	ProcessSegment(m *manifold.Manifold, seg arena.Handle[manifold.Segment]) error
}

// SectionProcessor processes one section. Never called twice with the same
// section within a phase.
type SectionProcessor interface {
	ProcessSection(m *manifold.Manifold, sec arena.Handle[manifold.Section]) error
}

// Package filter selects which manifold items a module sees. A Filter is a
// disjunction of item-level predicates: it matches the manifold, objects,
// segments or sections, and Or concatenates predicate lists.
package filter

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/manifold"
)

// ObjectPred decides whether an object matches.
type ObjectPred func(*manifold.Object) bool

// SegmentPred decides whether a segment of an object matches.
type SegmentPred func(*manifold.Object, *manifold.Segment) bool

// SectionPred decides whether a section of an object matches.
type SectionPred func(*manifold.Object, *manifold.Section) bool

type itemKind int

const (
	kindManifold itemKind = iota
	kindObject
	kindSegment
	kindSection
)

type item struct {
	kind itemKind
	obj  ObjectPred
	seg  SegmentPred
	sec  SectionPred
}

// Filter is a disjunction of item predicates.
type Filter struct {
	items []item
}

// Manifold matches the whole manifold: the module's manifold hook runs once
// per phase.
func Manifold() Filter {
	return Filter{items: []item{{kind: kindManifold}}}
}

// Object matches objects satisfying pred.
func Object(pred ObjectPred) Filter {
	return Filter{items: []item{{kind: kindObject, obj: pred}}}
}

// Segment matches segments satisfying pred.
func Segment(pred SegmentPred) Filter {
	return Filter{items: []item{{kind: kindSegment, seg: pred}}}
}

// Section matches sections satisfying pred.
func Section(pred SectionPred) Filter {
	return Filter{items: []item{{kind: kindSection, sec: pred}}}
}

// AnyObject matches every object.
func AnyObject() Filter {
	return Object(func(*manifold.Object) bool { return true })
}

// AnySegment matches every segment.
func AnySegment() Filter {
	return Segment(func(*manifold.Object, *manifold.Segment) bool { return true })
}

// AnySection matches every section.
func AnySection() Filter {
	return Section(func(*manifold.Object, *manifold.Section) bool { return true })
}

// SegmentType matches segments with the given program header type.
func SegmentType(tag elf.ProgType) Filter {
	return Segment(func(_ *manifold.Object, s *manifold.Segment) bool { return s.Tag == tag })
}

// SectionType matches sections with the given section header type.
func SectionType(tag elf.SectionType) Filter {
	return Section(func(_ *manifold.Object, s *manifold.Section) bool { return s.Tag == tag })
}

// Or returns the disjunction of f and g.
func (f Filter) Or(g Filter) Filter {
	items := make([]item, 0, len(f.items)+len(g.items))
	items = append(items, f.items...)
	items = append(items, g.items...)
	return Filter{items: items}
}

// MatchesManifold reports whether the filter matches the whole manifold.
func (f Filter) MatchesManifold() bool {
	for _, it := range f.items {
		if it.kind == kindManifold {
			return true
		}
	}
	return false
}

// MatchesObject reports whether the filter matches obj at the object level.
func (f Filter) MatchesObject(obj *manifold.Object) bool {
	for _, it := range f.items {
		if it.kind == kindObject && it.obj(obj) {
			return true
		}
	}
	return false
}

// IsSegmentFilter reports whether segments must be walked at all.
func (f Filter) IsSegmentFilter() bool {
	for _, it := range f.items {
		if it.kind == kindSegment {
			return true
		}
	}
	return false
}

// MatchesSegment reports whether the filter matches seg.
func (f Filter) MatchesSegment(obj *manifold.Object, seg *manifold.Segment) bool {
	for _, it := range f.items {
		if it.kind == kindSegment && it.seg(obj, seg) {
			return true
		}
	}
	return false
}

// IsSectionFilter reports whether sections must be walked at all.
func (f Filter) IsSectionFilter() bool {
	for _, it := range f.items {
		if it.kind == kindSection {
			return true
		}
	}
	return false
}

// MatchesSection reports whether the filter matches sec.
func (f Filter) MatchesSection(obj *manifold.Object, sec *manifold.Section) bool {
	for _, it := range f.items {
		if it.kind == kindSection && it.sec(obj, sec) {
			return true
		}
	}
	return false
}

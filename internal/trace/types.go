// Package trace provides types for pipeline event collection and analysis.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for pipeline events.
const (
	PhaseBegin Tag = "phase-begin"
	PhaseEnd   Tag = "phase-end"
	Apply      Tag = "apply"
	Ingest     Tag = "ingest"
	Collect    Tag = "collect"
	Load       Tag = "load"
	Reloc      Tag = "reloc"
	TLS        Tag = "tls"
	Protect    Tag = "protect"
	Start      Tag = "start"
	Hook       Tag = "hook"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Event represents one pipeline event.
type Event struct {
	Run       uuid.UUID // run the event belongs to
	Tags      Tags      // multiple hashtags, first is primary
	Phase     string    // phase name (e.g. "relocation")
	Module    string    // module name (e.g. "sysv-loader")
	Detail    string    // additional detail (e.g. an object path)
	Timestamp time.Time // when the event occurred
}

// Recorder collects events for one pipeline run.
type Recorder struct {
	run    uuid.UUID
	events []*Event
}

// NewRecorder creates a recorder with a fresh run id.
func NewRecorder() *Recorder {
	return &Recorder{run: uuid.New()}
}

// Run returns the run id.
func (r *Recorder) Run() uuid.UUID {
	return r.run
}

// Record appends an event stamped with the recorder's run id.
func (r *Recorder) Record(tag Tag, phase, module, detail string) {
	r.events = append(r.events, &Event{
		Run:       r.run,
		Tags:      Tags{tag},
		Phase:     phase,
		Module:    module,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []*Event {
	return r.events
}

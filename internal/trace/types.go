// Package trace records execution events from an emulator's hooks.
package trace

import (
	"fmt"
	"time"
)

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	Exec  Tag = "exec"
	Write Tag = "write"
	Intr  Tag = "intr"

	Stack   Tag = "stack"    // write inside the stack range
	SelfMod Tag = "self-mod" // write into an executable region
	Syscall Tag = "syscall"  // supervisor call
	Return  Tag = "return"   // pop into pc or branch through lr
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

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Event is one observed execution step, memory write or interrupt.
type Event struct {
	Seq   int    // order of observation
	PC    uint64 // instruction address (exec) or PC at the time of the write
	Addr  uint64 // written address; zero for exec and intr
	Size  int    // instruction or write size in bytes
	Value int64  // written value, or the interrupt number
	Raw   []byte // instruction bytes (exec)

	Tags        Tags
	Text        string // disassembly, when an enricher provides it
	Annotations Annotations
	Timestamp   time.Time
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

func (e *Event) String() string {
	switch e.Tags.Primary() {
	case Write:
		return fmt.Sprintf("%08x %s [%08x]%d <- %#x", e.PC, e.PrimaryTag(), e.Addr, e.Size, uint64(e.Value))
	case Intr:
		return fmt.Sprintf("%08x %s %d", e.PC, e.PrimaryTag(), e.Value)
	}
	if e.Text != "" {
		return fmt.Sprintf("%08x %s %s", e.PC, e.PrimaryTag(), e.Text)
	}
	return fmt.Sprintf("%08x %s", e.PC, e.PrimaryTag())
}

// Enricher adds tags and text to a recorded event.
type Enricher func(e *Event)

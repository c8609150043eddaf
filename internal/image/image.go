// Package image builds the baseline memory image of an ELF binary: the
// page-aligned Load segments plus a guard page at address zero and a stack
// page above everything else. The image is immutable once built and is the
// template every emulator instance is initialized from.
package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	glog "github.com/zboralski/hatchery/internal/log"
	"go.uber.org/zap"
)

// DefaultStackSize is the size of the synthetic stack segment.
const DefaultStackSize = 0x1000

var (
	// ErrFormat is returned when the buffer is not an ELF object.
	ErrFormat = errors.New("unsupported object format")
	// ErrUnplacedSection is returned in strict mode when a section's
	// address falls outside every Load segment.
	ErrUnplacedSection = errors.New("section outside every load segment")
)

// MemImage is the baseline address space of one binary.
type MemImage struct {
	segs    []Segment // guard, program loads, stack
	headers []Segment // non-Load program headers
	stack   int
}

type options struct {
	stackSize uint64
	strict    bool
	log       *glog.Logger
}

// Option configures Build.
type Option func(*options)

// WithStackSize overrides the size of the stack segment, rounded up to
// whole pages.
func WithStackSize(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.stackSize = AlignUp(n, PageSize)
		}
	}
}

// WithStrictSections makes sections without a containing segment fatal.
func WithStrictSections(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithLogger sets the logger used during the build.
func WithLogger(l *glog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Build parses buf as an ELF object and constructs its baseline image.
// It is a pure function of buf and the options.
func Build(buf []byte, opts ...Option) (*MemImage, error) {
	o := options{stackSize: DefaultStackSize, log: glog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("image")

	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	defer f.Close()

	img := &MemImage{}

	// Guard page first: some loaders scribble on low memory.
	img.segs = append(img.segs, NewSegment(0, PageSize, PermRead, SegLoad))
	firstProg := len(img.segs)

	for _, prog := range f.Progs {
		seg := SegmentFromProg(&prog.ProgHeader)
		if !seg.Loadable() {
			img.headers = append(img.headers, seg)
			continue
		}
		log.Debug("segment", glog.Addr(seg.Address), glog.Size(seg.Size), glog.Perm(seg.Perm.String()))
		img.segs = append(img.segs, seg)
	}

	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NULL || sec.Type == elf.SHT_NOBITS || sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		placed := false
		for i := firstProg; i < len(img.segs); i++ {
			seg := &img.segs[i]
			if !seg.Contains(sec.Addr) {
				continue
			}
			n := copySection(seg, sec.Addr, buf, sec.Offset, sec.Size)
			log.Debug("section", zap.String("name", sec.Name), glog.Addr(sec.Addr), zap.Int("copied", n))
			placed = true
			break
		}
		if !placed {
			if o.strict {
				return nil, fmt.Errorf("%w: %s at %s", ErrUnplacedSection, sec.Name, glog.Hex(sec.Addr))
			}
			log.Debug("section dropped", zap.String("name", sec.Name), glog.Addr(sec.Addr))
		}
	}

	var top uint64
	for i := range img.segs {
		if end := img.segs[i].AlignedEnd(); end > top {
			top = end
		}
	}
	img.stack = len(img.segs)
	img.segs = append(img.segs, NewSegment(top, o.stackSize, PermRead|PermWrite, SegLoad))
	log.Debug("stack", glog.Addr(top), glog.Size(o.stackSize))

	return img, nil
}

// copySection copies the file bytes [off, off+size) of buf into seg at the
// virtual address addr. The copy is clipped to the end of buf and to the
// segment content; it returns the number of bytes written.
func copySection(seg *Segment, addr uint64, buf []byte, off, size uint64) int {
	if off >= uint64(len(buf)) {
		return 0
	}
	end := off + size
	if end > uint64(len(buf)) || end < off {
		end = uint64(len(buf))
	}
	src := buf[off:end]

	// Section bytes that fall in the alignment slack below Address have
	// nowhere to go.
	if addr < seg.Address {
		skip := seg.Address - addr
		if skip >= uint64(len(src)) {
			return 0
		}
		src = src[skip:]
		addr = seg.Address
	}
	dst := addr - seg.Address
	if dst >= uint64(len(seg.Content)) {
		return 0
	}
	return copy(seg.Content[dst:], src)
}

// Segments returns a deep copy of the Load segments in stored order.
func (m *MemImage) Segments() []Segment {
	out := make([]Segment, len(m.segs))
	for i, s := range m.segs {
		out[i] = s.Clone()
	}
	return out
}

// Each calls fn with a read-only view of every Load segment in stored order
// and stops at the first error. fn must not retain or modify the segment.
func (m *MemImage) Each(fn func(*Segment) error) error {
	for i := range m.segs {
		if err := fn(&m.segs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of Load segments.
func (m *MemImage) Len() int {
	return len(m.segs)
}

// Headers returns the non-Load program headers recorded for bookkeeping.
func (m *MemImage) Headers() []Segment {
	out := make([]Segment, len(m.headers))
	for i, s := range m.headers {
		out[i] = s.Clone()
	}
	return out
}

// Guard returns the guard segment at address zero.
func (m *MemImage) Guard() Segment {
	return m.segs[0].Clone()
}

// Stack returns the synthetic stack segment.
func (m *MemImage) Stack() Segment {
	return m.segs[m.stack].Clone()
}

// Equal reports whether two images hold byte-identical segment lists.
func (m *MemImage) Equal(o *MemImage) bool {
	if len(m.segs) != len(o.segs) {
		return false
	}
	for i := range m.segs {
		a, b := &m.segs[i], &o.segs[i]
		if a.Address != b.Address || a.Size != b.Size || a.Perm != b.Perm ||
			a.Type != b.Type || !bytes.Equal(a.Content, b.Content) {
			return false
		}
	}
	return true
}

package trace

import (
	"errors"
	"sync"
	"time"

	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
)

// DefaultLimit caps the events a Recorder keeps.
const DefaultLimit = 1 << 16

// Recorder collects events from one emulator. Hooks fire on the goroutine
// running the emulator; Events may be read from any goroutine.
type Recorder struct {
	Limit     int
	Enrichers []Enricher

	mu        sync.Mutex
	events    []Event
	seq       int
	truncated bool

	emu   *emulator.Emulator
	hooks []*emulator.Hook
	stack [2]uint64
	exec  []emulator.LiveRegion
}

// NewRecorder returns a recorder with DefaultLimit.
func NewRecorder(enrichers ...Enricher) *Recorder {
	return &Recorder{Limit: DefaultLimit, Enrichers: enrichers}
}

// Attach installs exec, write and interrupt hooks on emu. Exec and write
// hooks are skipped when emu has no region to cover.
func (r *Recorder) Attach(emu *emulator.Emulator) error {
	if r.emu != nil {
		return errors.New("recorder already attached")
	}
	r.emu = emu

	if addr, size, err := emu.FindStack(); err == nil {
		r.stack = [2]uint64{addr, addr + size}
	}
	regions, err := emu.Regions()
	if err != nil {
		return err
	}
	r.exec = r.exec[:0]
	for _, reg := range regions {
		if reg.Perm.Has(image.PermExec) {
			r.exec = append(r.exec, reg)
		}
	}

	install := []func() (*emulator.Hook, error){
		func() (*emulator.Hook, error) { return emu.InstallExecHook(r.onExec) },
		func() (*emulator.Hook, error) { return emu.InstallWriteHook(r.onWrite) },
		func() (*emulator.Hook, error) { return emu.InstallInterruptHook(r.onIntr) },
	}
	for _, fn := range install {
		h, err := fn()
		if errors.Is(err, emulator.ErrNoRegion) {
			continue
		}
		if err != nil {
			r.Detach()
			return err
		}
		r.hooks = append(r.hooks, h)
	}
	return nil
}

// Detach removes the recorder's hooks. Recorded events are kept.
func (r *Recorder) Detach() error {
	var errs []error
	for _, h := range r.hooks {
		if err := r.emu.RemoveHook(h); err != nil {
			errs = append(errs, err)
		}
	}
	r.hooks = nil
	r.emu = nil
	return errors.Join(errs...)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Truncated reports whether events were dropped at Limit.
func (r *Recorder) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.seq = 0
	r.truncated = false
}

// Count returns the number of events carrying tag.
func (r *Recorder) Count(tag Tag) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.events {
		if r.events[i].Tags.Has(tag) {
			n++
		}
	}
	return n
}

func (r *Recorder) onExec(e *emulator.Emulator, addr uint64, size uint32) {
	ev := Event{PC: addr, Size: int(size), Tags: Tags{Exec}}
	ev.Raw, _ = e.Read(addr, uint64(size))
	r.record(ev)
}

func (r *Recorder) onWrite(e *emulator.Emulator, addr uint64, size int, value int64) {
	ev := Event{PC: e.PC(), Addr: addr, Size: size, Value: value, Tags: Tags{Write}}
	if addr >= r.stack[0] && addr < r.stack[1] {
		ev.AddTag(Stack)
	}
	for _, reg := range r.exec {
		if addr >= reg.Begin && addr < reg.End {
			ev.AddTag(SelfMod)
			break
		}
	}
	r.record(ev)
}

func (r *Recorder) onIntr(e *emulator.Emulator, intno uint32) {
	ev := Event{PC: e.PC(), Value: int64(intno), Tags: Tags{Intr}}
	if isSyscall(e.Target(), intno) {
		ev.AddTag(Syscall)
	}
	r.record(ev)
}

// isSyscall reports whether intno is the supervisor-call exception of t.
func isSyscall(t emulator.Target, intno uint32) bool {
	switch t.Arch {
	case emulator.ArchARM:
		return intno == 2
	case emulator.ArchMIPS:
		return intno == 17
	}
	return false
}

func (r *Recorder) record(ev Event) {
	for _, enrich := range r.Enrichers {
		enrich(&ev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Limit > 0 && len(r.events) >= r.Limit {
		r.truncated = true
		return
	}
	ev.Seq = r.seq
	r.seq++
	ev.Timestamp = time.Now()
	r.events = append(r.events, ev)
}

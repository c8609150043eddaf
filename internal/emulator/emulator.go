// Package emulator wraps Unicorn Engine behind one interface for the ARM and
// MIPS targets: mapping memory, running code, reading registers and
// instrumenting execution with hooks.
package emulator

import (
	"fmt"

	"github.com/google/uuid"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	"github.com/zboralski/hatchery/internal/image"
	glog "github.com/zboralski/hatchery/internal/log"
)

// State is the lifecycle position of an Emulator.
type State int

const (
	StateEmpty State = iota
	StateMapped
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateMapped:
		return "mapped"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LiveRegion is a mapped range [Begin, End) with uniform permissions.
type LiveRegion struct {
	Begin uint64
	End   uint64
	Perm  image.Perm
}

// Size is End - Begin.
func (r LiveRegion) Size() uint64 {
	return r.End - r.Begin
}

func (r LiveRegion) String() string {
	return fmt.Sprintf("[%08x -- %08x: %s]", r.Begin, r.End, r.Perm)
}

// fault is the last invalid access seen by the fault hook.
type fault struct {
	access int
	addr   uint64
}

// Emulator owns one Unicorn instance. It is not safe for concurrent use;
// callbacks run synchronously on the goroutine that called Start.
type Emulator struct {
	mu     uc.Unicorn
	target Target
	regs   *regSet
	id     string
	log    *glog.Logger
	base   *glog.Logger
	state  State

	hooks map[*Hook]uc.Hook
	fault *fault

	// stack is the tagged stack range when built from an image.
	stack *LiveRegion
}

type options struct {
	log *glog.Logger
}

// Option configures New.
type Option func(*options)

// WithLogger sets the parent logger; the emulator logs under "emu".
func WithLogger(l *glog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// New creates an emulator with no memory mapped.
func New(t Target, opts ...Option) (*Emulator, error) {
	o := options{log: glog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	arch, mode, err := t.unicorn()
	if err != nil {
		return nil, err
	}
	regs, err := t.regs()
	if err != nil {
		return nil, err
	}

	mu, err := uc.NewUnicorn(arch, mode)
	if err != nil {
		return nil, fmt.Errorf("create unicorn %s: %w", t, err)
	}

	id := uuid.NewString()
	e := &Emulator{
		mu:     mu,
		target: t,
		regs:   regs,
		id:     id,
		log:    o.log.Named("emu").With(glog.ID(id)),
		base:   o.log,
		hooks:  make(map[*Hook]uc.Hook),
	}

	if err := e.setupFaultHook(); err != nil {
		mu.Close()
		return nil, err
	}

	e.log.Debug("created", zap.Stringer("target", t))
	return e, nil
}

// setupFaultHook records the address of every invalid memory access so
// Start can report it. Returning false lets Unicorn stop with its error.
func (e *Emulator) setupFaultHook() error {
	invalid := uc.HOOK_MEM_READ_INVALID | uc.HOOK_MEM_WRITE_INVALID | uc.HOOK_MEM_FETCH_INVALID
	_, err := e.mu.HookAdd(invalid, func(_ uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		e.fault = &fault{access: access, addr: addr}
		return false
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("install fault hook: %w", err)
	}
	return nil
}

// ID returns the instance id used in log lines.
func (e *Emulator) ID() string {
	return e.id
}

// Target returns the target the emulator was built for.
func (e *Emulator) Target() Target {
	return e.target
}

// State returns the lifecycle state.
func (e *Emulator) State() State {
	return e.state
}

// Close releases the Unicorn instance.
func (e *Emulator) Close() error {
	e.hooks = nil
	return e.mu.Close()
}

// Map maps [addr, addr+size) with perm. addr and size must be page aligned
// and the range must not overlap an existing mapping.
func (e *Emulator) Map(addr, size uint64, perm image.Perm) error {
	if err := e.mu.MemMapProt(addr, size, int(perm)); err != nil {
		return fmt.Errorf("%w: %s+%s %s: %w", ErrMap, glog.Hex(addr), glog.Hex(size), perm, err)
	}
	if e.state == StateEmpty {
		e.state = StateMapped
	}
	e.log.Debug("map", glog.Addr(addr), glog.Size(size), glog.Perm(perm.String()))
	return nil
}

// Write copies data to addr.
func (e *Emulator) Write(addr uint64, data []byte) error {
	if err := e.mu.MemWrite(addr, data); err != nil {
		return fmt.Errorf("%w: write %d bytes at %s: %w", ErrMemory, len(data), glog.Hex(addr), err)
	}
	return nil
}

// Read returns size bytes at addr.
func (e *Emulator) Read(addr, size uint64) ([]byte, error) {
	data, err := e.mu.MemRead(addr, size)
	if err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %s: %w", ErrMemory, size, glog.Hex(addr), err)
	}
	return data, nil
}

// Regions returns a snapshot of the live mappings, ordered by address.
func (e *Emulator) Regions() ([]LiveRegion, error) {
	rs, err := e.mu.MemRegions()
	if err != nil {
		return nil, fmt.Errorf("%w: regions: %w", ErrMemory, err)
	}
	out := make([]LiveRegion, 0, len(rs))
	for _, r := range rs {
		out = append(out, LiveRegion{Begin: r.Begin, End: r.End + 1, Perm: image.Perm(r.Prot)})
	}
	return out, nil
}

// GeneralRegisters reads the general-purpose register file in the fixed
// order of the target (see Target.RegisterNames).
func (e *Emulator) GeneralRegisters() ([]uint64, error) {
	vals := make([]uint64, len(e.regs.ids))
	for i, reg := range e.regs.ids {
		v, err := e.mu.RegRead(reg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRegister, e.regs.names[i], err)
		}
		vals[i] = v
	}
	return vals, nil
}

// SetGeneralRegisters writes vals in GeneralRegisters order.
func (e *Emulator) SetGeneralRegisters(vals []uint64) error {
	if len(vals) != len(e.regs.ids) {
		return fmt.Errorf("%w: want %d values, got %d", ErrRegister, len(e.regs.ids), len(vals))
	}
	for i, reg := range e.regs.ids {
		if err := e.mu.RegWrite(reg, vals[i]); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRegister, e.regs.names[i], err)
		}
	}
	return nil
}

// Register reads one general register by name.
func (e *Emulator) Register(name string) (uint64, error) {
	for i, n := range e.regs.names {
		if n == name {
			v, err := e.mu.RegRead(e.regs.ids[i])
			if err != nil {
				return 0, fmt.Errorf("%w: %s: %w", ErrRegister, name, err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: no register %q on %s", ErrRegister, name, e.target)
}

// SetRegister writes one general register by name.
func (e *Emulator) SetRegister(name string, v uint64) error {
	for i, n := range e.regs.names {
		if n == name {
			if err := e.mu.RegWrite(e.regs.ids[i], v); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrRegister, name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: no register %q on %s", ErrRegister, name, e.target)
}

// StackPointer returns SP.
func (e *Emulator) StackPointer() uint64 {
	sp, _ := e.mu.RegRead(e.regs.sp)
	return sp
}

// SetStackPointer writes SP.
func (e *Emulator) SetStackPointer(v uint64) error {
	if err := e.mu.RegWrite(e.regs.sp, v); err != nil {
		return fmt.Errorf("%w: sp: %w", ErrRegister, err)
	}
	return nil
}

// PC returns the program counter.
func (e *Emulator) PC() uint64 {
	pc, _ := e.mu.RegRead(e.regs.pc)
	return pc
}

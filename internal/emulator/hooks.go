package emulator

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	"github.com/zboralski/hatchery/internal/image"
	glog "github.com/zboralski/hatchery/internal/log"
)

// HookKind identifies a hook category.
type HookKind int

const (
	HookExec HookKind = iota + 1
	HookWrite
	HookInterrupt
)

func (k HookKind) String() string {
	switch k {
	case HookExec:
		return "exec"
	case HookWrite:
		return "write"
	case HookInterrupt:
		return "interrupt"
	}
	return fmt.Sprintf("HookKind(%d)", int(k))
}

// CodeHookFunc is called before each instruction in the hooked range.
type CodeHookFunc func(e *Emulator, addr uint64, size uint32)

// WriteHookFunc is called for each memory write in the hooked range.
type WriteHookFunc func(e *Emulator, addr uint64, size int, value int64)

// InterruptHookFunc is called on software interrupts and exceptions.
type InterruptHookFunc func(e *Emulator, intno uint32)

// Hook is a handle to an installed hook. Begin and End are the inclusive
// bounds handed to Unicorn (End 0 with Begin 1 means everywhere).
type Hook struct {
	Kind  HookKind
	Begin uint64
	End   uint64
}

// InstallExecHook installs one code hook spanning the lowest to the highest
// live executable region.
func (e *Emulator) InstallExecHook(fn CodeHookFunc) (*Hook, error) {
	if e.state == StateRunning {
		return nil, &HookError{Kind: HookExec, Err: ErrRunning}
	}
	begin, end, err := e.span(image.PermExec)
	if err != nil {
		return nil, &HookError{Kind: HookExec, Err: err}
	}
	cb := func(_ uc.Unicorn, addr uint64, size uint32) {
		fn(e, addr, size)
	}
	return e.add(HookExec, uc.HOOK_CODE, cb, begin, end-1)
}

// InstallWriteHook installs one memory-write hook spanning the lowest to the
// highest live writable region.
func (e *Emulator) InstallWriteHook(fn WriteHookFunc) (*Hook, error) {
	if e.state == StateRunning {
		return nil, &HookError{Kind: HookWrite, Err: ErrRunning}
	}
	begin, end, err := e.span(image.PermWrite)
	if err != nil {
		return nil, &HookError{Kind: HookWrite, Err: err}
	}
	cb := func(_ uc.Unicorn, access int, addr uint64, size int, value int64) {
		fn(e, addr, size, value)
	}
	return e.add(HookWrite, uc.HOOK_MEM_WRITE, cb, begin, end-1)
}

// InstallInterruptHook installs an interrupt hook.
func (e *Emulator) InstallInterruptHook(fn InterruptHookFunc) (*Hook, error) {
	if e.state == StateRunning {
		return nil, &HookError{Kind: HookInterrupt, Err: ErrRunning}
	}
	cb := func(_ uc.Unicorn, intno uint32) {
		fn(e, intno)
	}
	return e.add(HookInterrupt, uc.HOOK_INTR, cb, 1, 0)
}

// RemoveHook removes an installed hook. Removing a hook twice, or a hook
// from another emulator, fails with ErrUnknownHook.
func (e *Emulator) RemoveHook(h *Hook) error {
	if e.state == StateRunning {
		return &HookError{Kind: hookKind(h), Err: ErrRunning}
	}
	raw, ok := e.hooks[h]
	if !ok {
		return &HookError{Kind: hookKind(h), Err: ErrUnknownHook}
	}
	if err := e.mu.HookDel(raw); err != nil {
		return &HookError{Kind: h.Kind, Err: err}
	}
	delete(e.hooks, h)
	return nil
}

// Hooks returns the number of installed hooks.
func (e *Emulator) Hooks() int {
	return len(e.hooks)
}

func hookKind(h *Hook) HookKind {
	if h == nil {
		return 0
	}
	return h.Kind
}

func (e *Emulator) add(kind HookKind, htype int, cb interface{}, begin, end uint64) (*Hook, error) {
	raw, err := e.mu.HookAdd(htype, cb, begin, end)
	if err != nil {
		return nil, &HookError{Kind: kind, Err: err}
	}
	h := &Hook{Kind: kind, Begin: begin, End: end}
	e.hooks[h] = raw
	e.log.Debug("hook", glog.Ptr("begin", begin), glog.Ptr("end", end), zap.Stringer("kind", kind))
	return h, nil
}

// span returns the half-open range from the lowest to the highest live
// region carrying perm. Gaps between regions are included.
func (e *Emulator) span(perm image.Perm) (begin, end uint64, err error) {
	regions, err := e.Regions()
	if err != nil {
		return 0, 0, err
	}
	found := false
	for _, r := range regions {
		if !r.Perm.Has(perm) {
			continue
		}
		if !found || r.Begin < begin {
			begin = r.Begin
		}
		if !found || r.End > end {
			end = r.End
		}
		found = true
	}
	if !found {
		return 0, 0, fmt.Errorf("%w: no %s region", ErrNoRegion, perm)
	}
	return begin, end, nil
}

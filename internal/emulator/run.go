package emulator

import (
	"time"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	glog "github.com/zboralski/hatchery/internal/log"
)

// StopReason tells why Start returned.
type StopReason int

const (
	// StopBound means PC reached the until address.
	StopBound StopReason = iota + 1
	// StopLimit means the timeout or instruction count ran out.
	StopLimit
	// StopFault means the CPU faulted; the error is an *ExecFault.
	StopFault
)

func (r StopReason) String() string {
	switch r {
	case StopBound:
		return "bound"
	case StopLimit:
		return "limit"
	case StopFault:
		return "fault"
	}
	return "unknown"
}

// Start runs from begin until PC reaches until, the timeout elapses or
// count instructions have executed. A zero timeout or count means no
// limit. Faults are returned as *ExecFault; execution is never retried.
// Thumb targets enter at begin|1.
func (e *Emulator) Start(begin, until uint64, timeout time.Duration, count uint64) (StopReason, error) {
	if e.state == StateRunning {
		return 0, ErrRunning
	}
	if e.target.Mode == ModeThumb {
		begin |= 1
	}

	opts := &uc.UcOptions{
		Timeout: uint64(timeout / time.Microsecond),
		Count:   count,
	}

	e.fault = nil
	e.state = StateRunning
	err := e.mu.StartWithOptions(begin, until, opts)
	e.state = StateHalted

	pc := e.PC()
	if err != nil {
		f := &ExecFault{Kind: faultKind(err), Addr: pc, PC: pc, Err: err}
		if e.fault != nil && f.Kind != FaultInstruction && f.Kind != FaultException {
			f.Addr = e.fault.addr
		}
		e.log.Debug("fault", zap.Stringer("kind", f.Kind), glog.Addr(f.Addr), glog.Ptr("pc", pc))
		return StopFault, f
	}

	if pc == until&^1 {
		return StopBound, nil
	}
	e.log.Debug("limit", glog.Ptr("pc", pc), zap.Duration("timeout", timeout), zap.Uint64("count", count))
	return StopLimit, nil
}

// Stop asks a running emulation to halt; call it from a hook.
func (e *Emulator) Stop() error {
	return e.mu.Stop()
}

package emulator

import (
	"errors"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	glog "github.com/zboralski/hatchery/internal/log"
)

var (
	ErrMap             = errors.New("map failed")
	ErrMemory          = errors.New("memory access failed")
	ErrRegister        = errors.New("register access failed")
	ErrArchUnsupported = errors.New("unsupported target")
	ErrMode            = errors.New("mode has no fixed instruction width")
	ErrNoRegion        = errors.New("no region to hook")
	ErrUnknownHook     = errors.New("unknown hook")
	ErrRunning         = errors.New("emulator is running")
	ErrNoStack         = errors.New("no stack region")
)

// HookError reports a failed hook operation.
type HookError struct {
	Kind HookKind
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Kind, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// FaultKind classifies an execution fault.
type FaultKind int

const (
	FaultFetch FaultKind = iota + 1
	FaultRead
	FaultWrite
	FaultInstruction
	FaultException
)

func (k FaultKind) String() string {
	switch k {
	case FaultFetch:
		return "fetch"
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultInstruction:
		return "instruction"
	case FaultException:
		return "exception"
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// ExecFault is returned by Start when execution stops on a CPU fault.
// Addr is the faulting data or fetch address when known, else PC.
type ExecFault struct {
	Kind FaultKind
	Addr uint64
	PC   uint64
	Err  error
}

func (f *ExecFault) Error() string {
	return fmt.Sprintf("%s fault at %s (pc %s): %v", f.Kind, glog.Hex(f.Addr), glog.Hex(f.PC), f.Err)
}

func (f *ExecFault) Unwrap() error { return f.Err }

// faultKind maps a Unicorn stop error to a FaultKind.
func faultKind(err error) FaultKind {
	var ue uc.UcError
	if !errors.As(err, &ue) {
		return FaultException
	}
	switch ue {
	case uc.ERR_FETCH_UNMAPPED, uc.ERR_FETCH_PROT, uc.ERR_FETCH_UNALIGNED:
		return FaultFetch
	case uc.ERR_READ_UNMAPPED, uc.ERR_READ_PROT, uc.ERR_READ_UNALIGNED:
		return FaultRead
	case uc.ERR_WRITE_UNMAPPED, uc.ERR_WRITE_PROT, uc.ERR_WRITE_UNALIGNED:
		return FaultWrite
	case uc.ERR_INSN_INVALID:
		return FaultInstruction
	}
	return FaultException
}

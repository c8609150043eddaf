package emulator

import (
	"fmt"
	"strings"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Arch identifies a CPU family.
type Arch int

const (
	ArchARM Arch = iota + 1
	ArchMIPS
)

func (a Arch) String() string {
	switch a {
	case ArchARM:
		return "arm"
	case ArchMIPS:
		return "mips"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// Mode selects the instruction set or byte order within an Arch.
type Mode int

const (
	ModeARM Mode = iota + 1
	ModeThumb
	ModeLittle
	ModeBig
)

func (m Mode) String() string {
	switch m {
	case ModeARM:
		return "arm"
	case ModeThumb:
		return "thumb"
	case ModeLittle:
		return "little"
	case ModeBig:
		return "big"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseArch parses "arm" or "mips".
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arm":
		return ArchARM, nil
	case "mips":
		return ArchMIPS, nil
	}
	return 0, fmt.Errorf("%w: arch %q", ErrArchUnsupported, s)
}

// ParseMode parses "arm", "thumb", "little" or "big".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arm":
		return ModeARM, nil
	case "thumb":
		return ModeThumb, nil
	case "little", "le":
		return ModeLittle, nil
	case "big", "be":
		return ModeBig, nil
	}
	return 0, fmt.Errorf("%w: mode %q", ErrArchUnsupported, s)
}

// Target is the (Arch, Mode) pair an emulator is built for.
type Target struct {
	Arch Arch
	Mode Mode
}

var (
	ARM     = Target{ArchARM, ModeARM}
	Thumb   = Target{ArchARM, ModeThumb}
	ARMBig  = Target{ArchARM, ModeBig}
	MIPS    = Target{ArchMIPS, ModeLittle}
	MIPSBig = Target{ArchMIPS, ModeBig}
)

// AllTargets lists every target with a backend.
var AllTargets = []Target{ARM, Thumb, ARMBig, MIPS, MIPSBig}

func (t Target) String() string {
	return t.Arch.String() + "/" + t.Mode.String()
}

// Validate reports whether the target has a backend.
func (t Target) Validate() error {
	_, _, err := t.unicorn()
	return err
}

// unicorn maps the target to Unicorn's arch and mode constants.
func (t Target) unicorn() (arch, mode int, err error) {
	switch t.Arch {
	case ArchARM:
		switch t.Mode {
		case ModeARM:
			return uc.ARCH_ARM, uc.MODE_ARM, nil
		case ModeThumb:
			return uc.ARCH_ARM, uc.MODE_THUMB, nil
		case ModeBig:
			return uc.ARCH_ARM, uc.MODE_ARM | uc.MODE_BIG_ENDIAN, nil
		}
	case ArchMIPS:
		switch t.Mode {
		case ModeLittle:
			return uc.ARCH_MIPS, uc.MODE_MIPS32 | uc.MODE_LITTLE_ENDIAN, nil
		case ModeBig:
			return uc.ARCH_MIPS, uc.MODE_MIPS32 | uc.MODE_BIG_ENDIAN, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrArchUnsupported, t)
}

// regSet is the fixed register file layout of an Arch.
type regSet struct {
	ids   []int
	names []string
	sp    int
	pc    int
}

var armRegs = regSet{
	ids: []int{
		uc.ARM_REG_R0, uc.ARM_REG_R1, uc.ARM_REG_R2, uc.ARM_REG_R3,
		uc.ARM_REG_R4, uc.ARM_REG_R5, uc.ARM_REG_R6, uc.ARM_REG_R7,
		uc.ARM_REG_R8, uc.ARM_REG_R9, uc.ARM_REG_R10, uc.ARM_REG_R11,
		uc.ARM_REG_R12, uc.ARM_REG_SP, uc.ARM_REG_LR, uc.ARM_REG_PC,
	},
	names: []string{
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
		"r8", "sb", "sl", "fp", "ip", "sp", "lr", "pc",
	},
	sp: uc.ARM_REG_SP,
	pc: uc.ARM_REG_PC,
}

var mipsRegs = regSet{
	ids: []int{
		uc.MIPS_REG_PC, uc.MIPS_REG_ZERO, uc.MIPS_REG_AT,
		uc.MIPS_REG_V0, uc.MIPS_REG_V1,
		uc.MIPS_REG_A0, uc.MIPS_REG_A1, uc.MIPS_REG_A2, uc.MIPS_REG_A3,
		uc.MIPS_REG_T0, uc.MIPS_REG_T1, uc.MIPS_REG_T2, uc.MIPS_REG_T3,
		uc.MIPS_REG_T4, uc.MIPS_REG_T5, uc.MIPS_REG_T6, uc.MIPS_REG_T7,
		uc.MIPS_REG_S0, uc.MIPS_REG_S1, uc.MIPS_REG_S2, uc.MIPS_REG_S3,
		uc.MIPS_REG_S4, uc.MIPS_REG_S5, uc.MIPS_REG_S6, uc.MIPS_REG_S7,
		uc.MIPS_REG_T8, uc.MIPS_REG_T9, uc.MIPS_REG_K0, uc.MIPS_REG_K1,
		uc.MIPS_REG_GP, uc.MIPS_REG_SP, uc.MIPS_REG_S8, uc.MIPS_REG_RA,
	},
	names: []string{
		"pc", "zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
		"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
		"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
		"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
	},
	sp: uc.MIPS_REG_SP,
	pc: uc.MIPS_REG_PC,
}

func (t Target) regs() (*regSet, error) {
	switch t.Arch {
	case ArchARM:
		return &armRegs, nil
	case ArchMIPS:
		return &mipsRegs, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrArchUnsupported, t)
}

// RegisterNames returns the names of GeneralRegisters in order.
func (t Target) RegisterNames() []string {
	rs, err := t.regs()
	if err != nil {
		return nil
	}
	return append([]string(nil), rs.names...)
}

// WordSize is the pointer width in bytes. Both backends are 32-bit.
func (t Target) WordSize() int {
	return 4
}

// BigEndian reports the target byte order.
func (t Target) BigEndian() bool {
	return t.Mode == ModeBig
}

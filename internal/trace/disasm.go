package trace

import (
	"strings"

	"golang.org/x/arch/arm/armasm"

	"github.com/zboralski/hatchery/internal/emulator"
)

// Disassembler returns an enricher that fills Text for exec events, tags
// returns and annotates conditional instructions with "cond". Only 32-bit
// ARM state is decoded; other targets pass through.
func Disassembler(t emulator.Target) Enricher {
	return func(ev *Event) {
		if t.Arch != emulator.ArchARM || t.Mode == emulator.ModeThumb {
			return
		}
		if !ev.Tags.Has(Exec) || ev.Size != 4 || len(ev.Raw) < 4 {
			return
		}
		src := ev.Raw[:4]
		if t.BigEndian() {
			src = []byte{src[3], src[2], src[1], src[0]}
		}
		inst, err := armasm.Decode(src, armasm.ModeARM)
		if err != nil {
			return
		}
		ev.Text = armasm.GNUSyntax(inst)
		if cc := condition(inst.Op); cc != "" {
			ev.Annotate("cond", cc)
		}
		if isReturn(inst) {
			ev.AddTag(Return)
		}
	}
}

// isReturn matches "bx lr" and pops that load pc, conditional or not.
func isReturn(inst armasm.Inst) bool {
	base, _, _ := strings.Cut(inst.Op.String(), ".")
	switch base {
	case "BX":
		r, ok := inst.Args[0].(armasm.Reg)
		return ok && r == armasm.LR
	case "POP":
		l, ok := inst.Args[0].(armasm.RegList)
		return ok && l&(1<<15) != 0
	}
	return false
}

var conditions = map[string]bool{
	"EQ": true, "NE": true, "CS": true, "CC": true, "HS": true, "LO": true,
	"MI": true, "PL": true, "VS": true, "VC": true, "HI": true, "LS": true,
	"GE": true, "LT": true, "GT": true, "LE": true,
}

// condition returns the lower-case condition suffix of op ("eq" for
// MOV.EQ), or "" when op always executes.
func condition(op armasm.Op) string {
	s := op.String()
	i := strings.LastIndexByte(s, '.')
	if i < 0 || !conditions[s[i+1:]] {
		return ""
	}
	return strings.ToLower(s[i+1:])
}

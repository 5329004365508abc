package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// maxSteps bounds a trace; dispatch code never loops.
const maxSteps = 1024

// Exit is how a traced path leaves the code.
type Exit uint8

const (
	// ExitIndirect is a jump through memory based on the traced register.
	ExitIndirect Exit = iota
	// ExitTrap is a software interrupt.
	ExitTrap
)

func (e Exit) String() string {
	switch e {
	case ExitIndirect:
		return "indirect"
	case ExitTrap:
		return "trap"
	}
	return fmt.Sprintf("exit?%d", uint8(e))
}

// Result is the end of a traced path.
type Result struct {
	Exit Exit

	// Disp is the displacement of the indirect jump.
	Disp int32
	// Vector is the interrupt vector of a trap.
	Vector uint8

	// Path holds the offset of every executed instruction.
	Path []int
}

// Trace follows the code from offset start with the selector register
// holding sel, and returns where control leaves the code. Only the
// instructions written by interface dispatch code are understood: compares
// of the selector register with immediates, conditional and unconditional
// relative jumps, jumps through [base+disp] and software interrupts.
func Trace(code []byte, start int, selReg, baseReg x86asm.Reg, sel uint32) (Result, error) {
	var (
		res Result
		zf  bool
		pc  = start
	)
	for step := 0; step < maxSteps; step++ {
		if pc < 0 || pc >= len(code) {
			return res, fmt.Errorf("disasm: trace left the code at %#x", pc)
		}
		inst, err := x86asm.Decode(code[pc:], mode)
		if err != nil {
			return res, fmt.Errorf("disasm: decode at %#x: %w", pc, err)
		}
		res.Path = append(res.Path, pc)
		next := pc + inst.Len

		switch inst.Op {
		case x86asm.NOP:
		case x86asm.CMP:
			reg, ok := inst.Args[0].(x86asm.Reg)
			imm, isImm := inst.Args[1].(x86asm.Imm)
			if !ok || reg != selReg || !isImm {
				return res, unsupported(pc, inst)
			}
			zf = sel == uint32(imm)
		case x86asm.JE, x86asm.JNE, x86asm.JMP:
			switch arg := inst.Args[0].(type) {
			case x86asm.Rel:
				taken := inst.Op == x86asm.JMP || (inst.Op == x86asm.JE) == zf
				if taken {
					next += int(arg)
				}
			case x86asm.Mem:
				if inst.Op != x86asm.JMP || arg.Base != baseReg || arg.Index != 0 {
					return res, unsupported(pc, inst)
				}
				res.Exit, res.Disp = ExitIndirect, int32(arg.Disp)
				return res, nil
			default:
				return res, unsupported(pc, inst)
			}
		case x86asm.INT:
			imm, ok := inst.Args[0].(x86asm.Imm)
			if !ok {
				return res, unsupported(pc, inst)
			}
			res.Exit, res.Vector = ExitTrap, uint8(imm)
			return res, nil
		default:
			return res, unsupported(pc, inst)
		}
		pc = next
	}
	return res, fmt.Errorf("disasm: trace from %#x exceeds %d steps", start, maxSteps)
}

func unsupported(pc int, inst x86asm.Inst) error {
	return fmt.Errorf("disasm: cannot trace %q at %#x", x86asm.IntelSyntax(inst, uint64(pc), nil), pc)
}

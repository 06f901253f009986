// Package cpu describes the fixed 16-bit target machine: its reserved
// addresses, the instruction encoding tables shared with the assembler, and a
// simulator that executes assembled programs word by word.
package cpu

import (
	"fmt"
)

type CPU struct {
	A  uint16
	D  uint16
	PC uint16

	ROM [MemorySize]uint16
	RAM [MemorySize]uint16

	// ProgramLen is the number of ROM words loaded by Load.
	ProgramLen int

	Steps uint64

	// Halted is set once PC leaves the program or the program enters the
	// canonical idle loop (an unconditional jump to the address instruction
	// directly before it).
	Halted bool

	// Fault records why the machine stopped on an illegal instruction.
	Fault error
}

// NewCPU returns a machine with cleared memory and registers.
func NewCPU() *CPU {
	return &CPU{}
}

// Load copies program into ROM starting at address 0 and resets the registers.
// RAM is left untouched so callers may seed it before or after loading.
func (c *CPU) Load(program []uint16) error {
	if len(program) > len(c.ROM) {
		return fmt.Errorf("program too large for ROM: %d words > %d words", len(program), len(c.ROM))
	}
	c.ROM = [MemorySize]uint16{}
	copy(c.ROM[:], program)
	c.ProgramLen = len(program)
	c.Reset()
	return nil
}

// Reset clears A, D, PC and the run state, keeping ROM and RAM.
func (c *CPU) Reset() {
	c.A = 0
	c.D = 0
	c.PC = 0
	c.Steps = 0
	c.Halted = false
	c.Fault = nil
}

// Peek reads a RAM word as a signed value.
func (c *CPU) Peek(addr uint16) int16 {
	return int16(c.RAM[addr&MaxAddress])
}

// Poke writes a signed value into RAM.
func (c *CPU) Poke(addr uint16, val int16) {
	c.RAM[addr&MaxAddress] = uint16(val)
}

// SP returns the current stack pointer held in RAM[0].
func (c *CPU) SP() uint16 {
	return c.RAM[AddrSP]
}

// StackTop returns the value just below the stack pointer. ok is false when
// the stack pointer does not point above the stack origin.
func (c *CPU) StackTop() (val int16, ok bool) {
	sp := c.SP()
	if sp <= StackBase || sp > AddrSCREEN {
		return 0, false
	}
	return c.Peek(sp - 1), true
}

// SetKey places a key code into the keyboard register. Zero means no key.
func (c *CPU) SetKey(code uint16) {
	c.RAM[AddrKBD] = code
}

// alu evaluates the six control bits over x and y.
func alu(x, y uint16, bits uint16) uint16 {
	zx := bits&0b100000 != 0
	nx := bits&0b010000 != 0
	zy := bits&0b001000 != 0
	ny := bits&0b000100 != 0
	f := bits&0b000010 != 0
	no := bits&0b000001 != 0

	if zx {
		x = 0
	}
	if nx {
		x = ^x
	}
	if zy {
		y = 0
	}
	if ny {
		y = ^y
	}
	var out uint16
	if f {
		out = x + y
	} else {
		out = x & y
	}
	if no {
		out = ^out
	}
	return out
}

// shift evaluates a shift instruction. Bit 5 selects left, bit 4 selects D
// over the A/M operand. Right shifts keep the sign bit.
func shift(d, y uint16, bits uint16) uint16 {
	operand := y
	if bits&0b010000 != 0 {
		operand = d
	}
	if bits&0b100000 != 0 {
		return operand << 1
	}
	return uint16(int16(operand) >> 1)
}

func shouldJump(out uint16, jump uint16) bool {
	v := int16(out)
	switch jump {
	case 0b000:
		return false
	case 0b001:
		return v > 0
	case 0b010:
		return v == 0
	case 0b011:
		return v >= 0
	case 0b100:
		return v < 0
	case 0b101:
		return v != 0
	case 0b110:
		return v <= 0
	default:
		return true
	}
}

func (c *CPU) Step() {
	if c.Halted {
		return
	}
	if int(c.PC) >= c.ProgramLen {
		c.Halted = true
		return
	}

	instr := c.ROM[c.PC]
	c.Steps++

	if instr&0x8000 == 0 {
		c.A = instr
		c.PC++
		return
	}

	prefix := instr >> 13
	comp := (instr >> 6) & 0x7F
	dest := (instr >> 3) & 0x07
	jump := instr & 0x07

	// The write address and the jump target are both the A value from
	// before this instruction.
	addr := c.A & MaxAddress
	y := c.A
	if comp&0b1000000 != 0 {
		y = c.RAM[addr]
	}

	var out uint16
	switch prefix {
	case PrefixCompute:
		out = alu(c.D, y, comp&0x3F)
	case PrefixShift:
		out = shift(c.D, y, comp&0x3F)
	default:
		c.Halted = true
		c.Fault = fmt.Errorf("illegal instruction 0x%04X at ROM[%d]", instr, c.PC)
		return
	}

	target := c.A
	if dest&0b001 != 0 {
		c.RAM[addr] = out
	}
	if dest&0b100 != 0 {
		c.A = out
	}
	if dest&0b010 != 0 {
		c.D = out
	}

	if !shouldJump(out, jump) {
		c.PC++
		return
	}
	if jump == 0b111 && c.PC > 0 && target == c.PC-1 && c.ROM[target] == target {
		c.Halted = true
	}
	c.PC = target & MaxAddress
}

func (c *CPU) Run() {
	for !c.Halted {
		c.Step()
	}
}

// RunSteps executes at most n instructions and returns how many ran.
func (c *CPU) RunSteps(n int) int {
	ran := 0
	for ran < n && !c.Halted {
		c.Step()
		ran++
	}
	return ran
}

package vm

import (
	"strconv"
	"strings"
)

type instrKind int

const (
	instrAddress instrKind = iota
	instrCompute
	instrLabel
	instrComment
)

// Instr is one line of generated assembly. All output goes through
// Instr.String so every sequence shares a single formatter.
type Instr struct {
	kind instrKind
	// text is the address operand, label name or comment body.
	text string

	dest, comp, jump string
}

func at(symbol string) Instr {
	return Instr{kind: instrAddress, text: symbol}
}

func atInt(n int) Instr {
	return at(strconv.Itoa(n))
}

func assign(dest, comp string) Instr {
	return Instr{kind: instrCompute, dest: dest, comp: comp}
}

func jump(comp, cond string) Instr {
	return Instr{kind: instrCompute, comp: comp, jump: cond}
}

func label(name string) Instr {
	return Instr{kind: instrLabel, text: name}
}

func comment(text string) Instr {
	return Instr{kind: instrComment, text: text}
}

// IsInstruction reports whether the line occupies a ROM word.
func (i Instr) IsInstruction() bool {
	return i.kind == instrAddress || i.kind == instrCompute
}

func (i Instr) String() string {
	switch i.kind {
	case instrAddress:
		return "@" + i.text
	case instrLabel:
		return "(" + i.text + ")"
	case instrComment:
		return "// " + i.text
	}
	var sb strings.Builder
	if i.dest != "" {
		sb.WriteString(i.dest)
		sb.WriteByte('=')
	}
	sb.WriteString(i.comp)
	if i.jump != "" {
		sb.WriteByte(';')
		sb.WriteString(i.jump)
	}
	return sb.String()
}

// pushD pushes the D register.
func pushD() []Instr {
	return []Instr{
		at("SP"),
		assign("A", "M"),
		assign("M", "D"),
		at("SP"),
		assign("M", "M+1"),
	}
}

// popD pops the top of stack into D.
func popD() []Instr {
	return []Instr{
		at("SP"),
		assign("AM", "M-1"),
		assign("D", "M"),
	}
}

// popTo pops the top of stack into a scratch register.
func popTo(register string) []Instr {
	return append(popD(), at(register), assign("M", "D"))
}

func seq(parts ...[]Instr) []Instr {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]Instr, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func render(instrs []Instr) string {
	var sb strings.Builder
	for _, in := range instrs {
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

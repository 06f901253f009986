// Package vm lowers stack-machine commands into assembly for the 16-bit
// target. The output is plain assembly text accepted by package asm.
//
// Calling convention: call pushes the return address and the caller's
// LCL, ARG, THIS and THAT, then points ARG at the first argument and LCL at
// the new stack top. Return moves the result into the caller's ARG[0] and
// restores the four bases from the frame.
package vm

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"hackchain/pkg/cpu"
)

const (
	DefaultEntryPoint = "Sys.init"

	// BootstrapContext names the caller of the entry point in return labels.
	BootstrapContext = "Bootstrap"

	// frameSize is the return address plus the four saved segment bases.
	frameSize = 5
)

var ErrBadUnit = errors.New("bad unit name")

// Unit is one named source of VM commands. Static variables are qualified
// by Name.
type Unit struct {
	Name   string
	Source string
}

type Translator struct {
	out []Instr

	unit     string
	function string

	entryPoint string
	comments   bool

	// compares numbers comparison sites across the whole run.
	compares int
	// calls holds the next call-site index per calling function.
	calls map[string]int
}

type Option func(*Translator)

// WithComments annotates every command with its VM text.
func WithComments(on bool) Option {
	return func(t *Translator) {
		t.comments = on
	}
}

// WithEntryPoint overrides the function called by Bootstrap.
func WithEntryPoint(name string) Option {
	return func(t *Translator) {
		t.entryPoint = name
	}
}

func New(opts ...Option) *Translator {
	t := &Translator{
		entryPoint: DefaultEntryPoint,
		calls:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReturnLabel names the resume point of the i-th call made from fn.
func ReturnLabel(fn string, i int) string {
	return fmt.Sprintf("%s$ret$%d", fn, i)
}

// CompareLabel names one branch target of the k-th comparison site.
func CompareLabel(unit string, k int, part string) string {
	return fmt.Sprintf("%s$cmp$%d.%s", unit, k, part)
}

// StaticSymbol is the assembly variable backing static slot i of unit.
func StaticSymbol(unit string, i int) string {
	return fmt.Sprintf("%s.%d", unit, i)
}

// String returns the assembly emitted so far.
func (t *Translator) String() string {
	return render(t.out)
}

// Instructions returns a copy of the emitted lines.
func (t *Translator) Instructions() []Instr {
	return append([]Instr(nil), t.out...)
}

// isUnitName reports whether name can prefix assembly symbols: printable,
// no whitespace, not starting with a digit, and free of '$', '/' and the
// assembler's delimiters.
func isUnitName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && unicode.IsDigit(r) {
			return false
		}
		if !unicode.IsPrint(r) || unicode.IsSpace(r) || strings.ContainsRune("$/@()=;", r) {
			return false
		}
	}
	return true
}

// SetUnit starts a new source unit. The function context is cleared; the
// label counters carry over.
func (t *Translator) SetUnit(name string) error {
	if !isUnitName(name) {
		return fmt.Errorf("%w: %q", ErrBadUnit, name)
	}
	t.unit = name
	t.function = ""
	return nil
}

// Bootstrap sets SP to the stack origin and calls the entry point with no
// arguments. It must come before any unit.
func (t *Translator) Bootstrap() {
	if t.comments {
		t.emit(comment("bootstrap"))
	}
	t.emit(
		atInt(int(cpu.StackBase)),
		assign("D", "A"),
		at("SP"),
		assign("M", "D"),
	)
	t.emitCall(BootstrapContext, t.entryPoint, 0)
}

// TranslateUnit parses src and translates every command under unit name.
func (t *Translator) TranslateUnit(name, src string) error {
	if err := t.SetUnit(name); err != nil {
		return err
	}
	cmds, err := Parse(src)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, cmd := range cmds {
		if err := t.Translate(cmd); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// TranslateProgram translates units in the given order into one assembly
// program, optionally preceded by the bootstrap.
func TranslateProgram(units []Unit, bootstrap bool, opts ...Option) (string, error) {
	t := New(opts...)
	if bootstrap {
		t.Bootstrap()
	}
	for _, u := range units {
		if err := t.TranslateUnit(u.Name, u.Source); err != nil {
			return "", err
		}
	}
	return t.String(), nil
}

// Translate appends the assembly for one command. A rejected command leaves
// the output and every counter untouched.
func (t *Translator) Translate(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return t.lineErr(cmd, err)
	}
	if cmd.Op == OpPush || cmd.Op == OpPop {
		if cmd.Segment == SegStatic && t.unit == "" {
			return t.lineErr(cmd, fmt.Errorf("%w: static access outside a unit", ErrBadUnit))
		}
	}
	if cmd.Op.IsComparison() && t.unit == "" {
		return t.lineErr(cmd, fmt.Errorf("%w: comparison outside a unit", ErrBadUnit))
	}

	if t.comments {
		t.emit(comment(cmd.String()))
	}

	switch {
	case cmd.Op.IsComparison():
		t.emitCompare(cmd.Op)
		return nil
	case cmd.Op.IsBinary():
		t.emitBinary(cmd.Op)
		return nil
	case cmd.Op.IsUnary():
		t.emitUnary(cmd.Op)
		return nil
	}

	switch cmd.Op {
	case OpPush:
		t.emitPush(cmd.Segment, cmd.Index)
	case OpPop:
		t.emitPop(cmd.Segment, cmd.Index)
	case OpLabel:
		t.emit(label(t.qualify(cmd.Name)))
	case OpGoto:
		t.emit(at(t.qualify(cmd.Name)), jump("0", "JMP"))
	case OpIfGoto:
		t.emit(popD()...)
		t.emit(at(t.qualify(cmd.Name)), jump("D", "JNE"))
	case OpFunction:
		t.emitFunction(cmd.Name, cmd.N)
	case OpCall:
		t.emitCall(t.callerContext(), cmd.Name, cmd.N)
	case OpReturn:
		t.emitReturn()
	}
	return nil
}

func (t *Translator) lineErr(cmd Command, err error) error {
	if cmd.Line == 0 {
		return err
	}
	return &LineError{Line: cmd.Line, Text: cmd.String(), Err: err}
}

func (t *Translator) emit(instrs ...Instr) {
	t.out = append(t.out, instrs...)
}

// qualify scopes a VM label to the current function, or to the unit when
// no function has been declared yet.
func (t *Translator) qualify(name string) string {
	scope := t.function
	if scope == "" {
		scope = t.unit
	}
	return scope + "$" + name
}

func (t *Translator) callerContext() string {
	if t.function != "" {
		return t.function
	}
	if t.unit != "" {
		return t.unit
	}
	return BootstrapContext
}

var binaryComp = map[Op]string{
	OpAdd: "D+M",
	OpSub: "M-D",
	OpAnd: "D&M",
	OpOr:  "D|M",
}

// emitBinary pops y into D and folds it into x in place.
func (t *Translator) emitBinary(op Op) {
	t.emit(popD()...)
	t.emit(
		assign("A", "A-1"),
		assign("M", binaryComp[op]),
	)
}

var unaryComp = map[Op]string{
	OpNeg:        "-M",
	OpNot:        "!M",
	OpShiftLeft:  "M<<",
	OpShiftRight: "M>>",
}

func (t *Translator) emitUnary(op Op) {
	t.emit(
		at("SP"),
		assign("A", "M-1"),
		assign("M", unaryComp[op]),
	)
}

// relation describes a comparison by its same-sign jump and by the answer
// when the operand signs differ.
type relation struct {
	jump string
	// secondLess is the result when second < 0 <= top.
	secondLess bool
	// secondGreater is the result when top < 0 <= second.
	secondGreater bool
}

var relations = map[Op]relation{
	OpGt: {jump: "JGT", secondLess: false, secondGreater: true},
	OpLt: {jump: "JLT", secondLess: true, secondGreater: false},
	OpEq: {jump: "JEQ", secondLess: false, secondGreater: false},
}

func boolComp(b bool) string {
	if b {
		return "-1"
	}
	return "0"
}

// emitCompare pushes -1 if second <op> top holds, else 0. Opposite signs
// are decided from the signs alone; second-top is only computed when the
// signs agree, where it cannot overflow.
func (t *Translator) emitCompare(op Op) {
	rel := relations[op]
	k := t.compares
	t.compares++

	topNeg := CompareLabel(t.unit, k, "TOPNEG")
	same := CompareLabel(t.unit, k, "SAME")
	isTrue := CompareLabel(t.unit, k, "TRUE")
	end := CompareLabel(t.unit, k, "END")

	t.emit(seq(
		popTo("R13"),
		popTo("R14"),
		[]Instr{
			at("R13"), assign("D", "M"),
			at(topNeg), jump("D", "JLT"),
			// top >= 0
			at("R14"), assign("D", "M"),
			at(same), jump("D", "JGE"),
			assign("D", boolComp(rel.secondLess)),
			at(end), jump("0", "JMP"),

			label(topNeg),
			at("R14"), assign("D", "M"),
			at(same), jump("D", "JLT"),
			assign("D", boolComp(rel.secondGreater)),
			at(end), jump("0", "JMP"),

			label(same),
			at("R13"), assign("D", "M"),
			at("R14"), assign("D", "M-D"),
			at(isTrue), jump("D", rel.jump),
			assign("D", "0"),
			at(end), jump("0", "JMP"),

			label(isTrue),
			assign("D", "-1"),

			label(end),
		},
		pushD(),
	)...)
}

func (t *Translator) emitPush(seg Segment, index int) {
	switch seg {
	case SegConstant:
		t.emit(atInt(index), assign("D", "A"))
	case SegStatic:
		t.emit(at(StaticSymbol(t.unit, index)), assign("D", "M"))
	case SegTemp:
		t.emit(atInt(int(cpu.TempBase)+index), assign("D", "M"))
	case SegPointer:
		t.emit(atInt(int(cpu.PointerBase)+index), assign("D", "M"))
	default:
		base, _ := seg.baseRegister()
		t.emit(
			at(base), assign("D", "M"),
			atInt(index), assign("A", "D+A"),
			assign("D", "M"),
		)
	}
	t.emit(pushD()...)
}

func (t *Translator) emitPop(seg Segment, index int) {
	switch seg {
	case SegStatic:
		t.emit(popD()...)
		t.emit(at(StaticSymbol(t.unit, index)), assign("M", "D"))
	case SegTemp:
		t.emit(popD()...)
		t.emit(atInt(int(cpu.TempBase)+index), assign("M", "D"))
	case SegPointer:
		t.emit(popD()...)
		t.emit(atInt(int(cpu.PointerBase)+index), assign("M", "D"))
	default:
		// The target address is parked in R13 while the value is popped.
		base, _ := seg.baseRegister()
		t.emit(
			at(base), assign("D", "M"),
			atInt(index), assign("D", "D+A"),
			at("R13"), assign("M", "D"),
		)
		t.emit(popD()...)
		t.emit(
			at("R13"), assign("A", "M"),
			assign("M", "D"),
		)
	}
}

func (t *Translator) emitFunction(name string, locals int) {
	t.function = name
	t.emit(label(name))
	for i := 0; i < locals; i++ {
		t.emit(
			at("SP"), assign("A", "M"),
			assign("M", "0"),
			at("SP"), assign("M", "M+1"),
		)
	}
}

// emitCall builds the frame and jumps to fn. caller selects the return
// label namespace.
func (t *Translator) emitCall(caller, fn string, args int) {
	i := t.calls[caller]
	t.calls[caller] = i + 1
	ret := ReturnLabel(caller, i)

	t.emit(at(ret), assign("D", "A"))
	t.emit(pushD()...)
	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		t.emit(at(reg), assign("D", "M"))
		t.emit(pushD()...)
	}
	t.emit(
		// ARG = SP - 5 - args
		at("SP"), assign("D", "M"),
		atInt(frameSize+args), assign("D", "D-A"),
		at("ARG"), assign("M", "D"),
		// LCL = SP
		at("SP"), assign("D", "M"),
		at("LCL"), assign("M", "D"),
		at(fn), jump("0", "JMP"),
		label(ret),
	)
}

func (t *Translator) emitReturn() {
	t.emit(
		// R14 = frame
		at("LCL"), assign("D", "M"),
		at("R14"), assign("M", "D"),
		// R15 = *(frame-5), saved before ARG[0] can overwrite it
		atInt(frameSize), assign("A", "D-A"),
		assign("D", "M"),
		at("R15"), assign("M", "D"),
	)
	t.emit(popD()...)
	t.emit(
		at("ARG"), assign("A", "M"),
		assign("M", "D"),
		// SP = ARG + 1
		at("ARG"), assign("D", "M+1"),
		at("SP"), assign("M", "D"),
	)
	for _, reg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		t.emit(
			at("R14"), assign("AM", "M-1"),
			assign("D", "M"),
			at(reg), assign("M", "D"),
		)
	}
	t.emit(
		at("R15"), assign("A", "M"),
		jump("0", "JMP"),
	)
}

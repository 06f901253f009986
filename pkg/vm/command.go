package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hackchain/pkg/cpu"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpNeg
	OpEq
	OpGt
	OpLt
	OpAnd
	OpOr
	OpNot
	OpShiftLeft
	OpShiftRight
	OpPush
	OpPop
	OpLabel
	OpGoto
	OpIfGoto
	OpFunction
	OpCall
	OpReturn
)

var opNames = map[Op]string{
	OpAdd:        "add",
	OpSub:        "sub",
	OpNeg:        "neg",
	OpEq:         "eq",
	OpGt:         "gt",
	OpLt:         "lt",
	OpAnd:        "and",
	OpOr:         "or",
	OpNot:        "not",
	OpShiftLeft:  "shiftleft",
	OpShiftRight: "shiftright",
	OpPush:       "push",
	OpPop:        "pop",
	OpLabel:      "label",
	OpGoto:       "goto",
	OpIfGoto:     "if-goto",
	OpFunction:   "function",
	OpCall:       "call",
	OpReturn:     "return",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsBinary reports whether o pops two operands and pushes one result.
func (o Op) IsBinary() bool {
	switch o {
	case OpAdd, OpSub, OpAnd, OpOr, OpEq, OpGt, OpLt:
		return true
	}
	return false
}

// IsUnary reports whether o replaces the top of stack in place.
func (o Op) IsUnary() bool {
	switch o {
	case OpNeg, OpNot, OpShiftLeft, OpShiftRight:
		return true
	}
	return false
}

// IsComparison reports whether o is one of eq, gt, lt.
func (o Op) IsComparison() bool {
	return o == OpEq || o == OpGt || o == OpLt
}

type Segment int

const (
	SegConstant Segment = iota
	SegLocal
	SegArgument
	SegThis
	SegThat
	SegStatic
	SegTemp
	SegPointer
)

var segmentNames = map[Segment]string{
	SegConstant: "constant",
	SegLocal:    "local",
	SegArgument: "argument",
	SegThis:     "this",
	SegThat:     "that",
	SegStatic:   "static",
	SegTemp:     "temp",
	SegPointer:  "pointer",
}

var segmentsByName = func() map[string]Segment {
	m := make(map[string]Segment, len(segmentNames))
	for s, name := range segmentNames {
		m[name] = s
	}
	return m
}()

func (s Segment) String() string {
	if name, ok := segmentNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Segment(%d)", int(s))
}

// ParseSegment looks up a segment by its VM name.
func ParseSegment(name string) (Segment, bool) {
	s, ok := segmentsByName[name]
	return s, ok
}

// baseRegister names the pointer register of the frame-relative segments.
func (s Segment) baseRegister() (string, bool) {
	switch s {
	case SegLocal:
		return "LCL", true
	case SegArgument:
		return "ARG", true
	case SegThis:
		return "THIS", true
	case SegThat:
		return "THAT", true
	}
	return "", false
}

var (
	ErrSyntax         = errors.New("syntax error")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadSegment     = errors.New("bad segment")
	ErrBadIndex       = errors.New("bad index")
	ErrBadName        = errors.New("bad name")
)

// LineError ties a failure to the VM source line that caused it.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%v on line %d: %s", e.Err, e.Line, e.Text)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Command is one stack-machine instruction.
//
// Push and pop use Segment and Index. Label, goto and if-goto use Name.
// Function uses Name and N (local count); call uses Name and N (argument count).
type Command struct {
	Op      Op
	Segment Segment
	Index   int
	Name    string
	N       int
	// Line is the 1-based source line, zero for commands built in code.
	Line int
}

func (c Command) String() string {
	switch c.Op {
	case OpPush, OpPop:
		return fmt.Sprintf("%s %s %d", c.Op, c.Segment, c.Index)
	case OpLabel, OpGoto, OpIfGoto:
		return fmt.Sprintf("%s %s", c.Op, c.Name)
	case OpFunction, OpCall:
		return fmt.Sprintf("%s %s %d", c.Op, c.Name, c.N)
	default:
		return c.Op.String()
	}
}

// StackEffect is the net change in stack depth once the command completes.
// For call it is measured after the callee has returned, when the return
// value has replaced the arguments. Return reports ok=false: it discards the
// callee's whole frame.
func (c Command) StackEffect() (delta int, ok bool) {
	switch {
	case c.Op.IsBinary():
		return -1, true
	case c.Op.IsUnary():
		return 0, true
	}
	switch c.Op {
	case OpPush:
		return 1, true
	case OpPop, OpIfGoto:
		return -1, true
	case OpLabel, OpGoto:
		return 0, true
	case OpFunction:
		return c.N, true
	case OpCall:
		return 1 - c.N, true
	}
	return 0, false
}

// Validate checks operand ranges independently of any translator state.
func (c Command) Validate() error {
	switch c.Op {
	case OpPush, OpPop:
		if _, ok := segmentNames[c.Segment]; !ok {
			return fmt.Errorf("%w: %v", ErrBadSegment, c.Segment)
		}
		if c.Index < 0 {
			return fmt.Errorf("%w: %d is negative", ErrBadIndex, c.Index)
		}
		switch c.Segment {
		case SegConstant:
			if c.Op == OpPop {
				return fmt.Errorf("%w: cannot pop into constant", ErrBadSegment)
			}
			if c.Index > cpu.MaxAddress {
				return fmt.Errorf("%w: constant %d exceeds %d", ErrBadIndex, c.Index, cpu.MaxAddress)
			}
		case SegTemp:
			if c.Index >= cpu.TempSize {
				return fmt.Errorf("%w: temp %d (max %d)", ErrBadIndex, c.Index, cpu.TempSize-1)
			}
		case SegPointer:
			if c.Index >= cpu.PointerSize {
				return fmt.Errorf("%w: pointer %d (max %d)", ErrBadIndex, c.Index, cpu.PointerSize-1)
			}
		default:
			if c.Index > cpu.MaxAddress {
				return fmt.Errorf("%w: %d exceeds %d", ErrBadIndex, c.Index, cpu.MaxAddress)
			}
		}
	case OpLabel, OpGoto, OpIfGoto:
		if !isName(c.Name) {
			return fmt.Errorf("%w: label %q", ErrBadName, c.Name)
		}
	case OpFunction, OpCall:
		if !isName(c.Name) {
			return fmt.Errorf("%w: function %q", ErrBadName, c.Name)
		}
		if _, ok := predefined[c.Name]; ok {
			return fmt.Errorf("%w: function %q is a predefined symbol", ErrBadName, c.Name)
		}
		if isStaticForm(c.Name) {
			return fmt.Errorf("%w: function %q has the form of a static variable", ErrBadName, c.Name)
		}
		if c.N < 0 || c.N > cpu.MaxAddress {
			return fmt.Errorf("%w: count %d", ErrBadIndex, c.N)
		}
	default:
		if _, ok := opNames[c.Op]; !ok {
			return fmt.Errorf("%w: %v", ErrUnknownCommand, c.Op)
		}
	}
	return nil
}

// Parse reads a whole unit. Blank lines and // comments are skipped.
func Parse(src string) ([]Command, error) {
	var cmds []Command
	for i, raw := range strings.Split(src, "\n") {
		cmd, ok, err := ParseLine(raw, i+1)
		if err != nil {
			return nil, err
		}
		if ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds, nil
}

// ParseLine parses one line. ok is false for blank and comment-only lines.
func ParseLine(raw string, lineNo int) (cmd Command, ok bool, err error) {
	text := raw
	if idx := strings.Index(text, "//"); idx >= 0 {
		text = text[:idx]
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false, nil
	}

	fail := func(err error) (Command, bool, error) {
		return Command{}, false, &LineError{Line: lineNo, Text: strings.TrimSpace(raw), Err: err}
	}

	op, known := opsByName[fields[0]]
	if !known {
		return fail(fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0]))
	}
	cmd = Command{Op: op, Line: lineNo}
	args := fields[1:]

	want := 0
	switch op {
	case OpPush, OpPop, OpFunction, OpCall:
		want = 2
	case OpLabel, OpGoto, OpIfGoto:
		want = 1
	}
	if len(args) != want {
		return fail(fmt.Errorf("%w: %s expects %d operand(s), got %d", ErrSyntax, op, want, len(args)))
	}

	switch op {
	case OpPush, OpPop:
		seg, found := ParseSegment(args[0])
		if !found {
			return fail(fmt.Errorf("%w: %q", ErrBadSegment, args[0]))
		}
		idx, err := parseIndex(args[1])
		if err != nil {
			return fail(err)
		}
		cmd.Segment = seg
		cmd.Index = idx
	case OpLabel, OpGoto, OpIfGoto:
		cmd.Name = args[0]
	case OpFunction, OpCall:
		n, err := parseIndex(args[1])
		if err != nil {
			return fail(err)
		}
		cmd.Name = args[0]
		cmd.N = n
	}

	if err := cmd.Validate(); err != nil {
		return fail(err)
	}
	return cmd, true, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadIndex, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrBadIndex, n)
	}
	return n, nil
}

// predefined holds the assembler's built-in symbols. A function label with
// one of these names would be shadowed by the built-in address.
var predefined = cpu.PredefinedSymbols()

// isStaticForm reports whether name looks like Unit.i, the assembly
// variable behind a static slot.
func isStaticForm(name string) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return false
	}
	for _, r := range name[dot+1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isName accepts VM identifiers: letters, digits, '_', '.' and ':', not
// starting with a digit. '$' is reserved for qualified assembly labels.
func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '.', r == ':':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

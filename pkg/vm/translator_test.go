package vm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"hackchain/pkg/asm"
	"hackchain/pkg/cpu"
)

const maxSteps = 200000

type registers struct {
	sp, lcl, arg, this, that int16
}

func (r registers) seed(c *cpu.CPU) {
	c.Poke(cpu.AddrSP, r.sp)
	c.Poke(cpu.AddrLCL, r.lcl)
	c.Poke(cpu.AddrARG, r.arg)
	c.Poke(cpu.AddrTHIS, r.this)
	c.Poke(cpu.AddrTHAT, r.that)
}

func (r registers) check(t *testing.T, c *cpu.CPU) {
	t.Helper()
	got := registers{
		sp:   c.Peek(cpu.AddrSP),
		lcl:  c.Peek(cpu.AddrLCL),
		arg:  c.Peek(cpu.AddrARG),
		this: c.Peek(cpu.AddrTHIS),
		that: c.Peek(cpu.AddrTHAT),
	}
	if got != r {
		t.Errorf("registers = %+v, want %+v", got, r)
	}
}

// execute assembles code, seeds RAM, and runs it until it halts.
func execute(t *testing.T, code string, seed func(c *cpu.CPU)) (*cpu.CPU, *asm.Assembler) {
	t.Helper()
	a := asm.NewAssembler()
	words, _, err := a.AssembleWords(code)
	if err != nil {
		t.Fatalf("assembling translator output: %v\n%s", err, code)
	}
	c := cpu.NewCPU()
	if seed != nil {
		seed(c)
	}
	if err := c.Load(words); err != nil {
		t.Fatal(err)
	}
	c.RunSteps(maxSteps)
	if c.Fault != nil {
		t.Fatalf("fault: %v", c.Fault)
	}
	if !c.Halted {
		t.Fatalf("program did not halt within %d steps", maxSteps)
	}
	return c, a
}

// translate runs one unit named Test without bootstrap.
func translate(t *testing.T, src string) string {
	t.Helper()
	out, err := TranslateProgram([]Unit{{Name: "Test", Source: src}}, false)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	return out
}

// pushValue emits VM code that leaves v on the stack.
func pushValue(v int) string {
	switch {
	case v >= 0:
		return fmt.Sprintf("push constant %d\n", v)
	case v == -32768:
		return "push constant 32767\nneg\npush constant 1\nsub\n"
	default:
		return fmt.Sprintf("push constant %d\nneg\n", -v)
	}
}

func seedStack(c *cpu.CPU) {
	c.Poke(cpu.AddrSP, int16(cpu.StackBase))
}

func TestEndToEndWithoutBootstrap(t *testing.T) {
	out := translate(t, "push constant 7\npush constant 8\nadd\n")
	c, _ := execute(t, out, seedStack)

	top, ok := c.StackTop()
	if !ok || top != 15 {
		t.Fatalf("stack top = %d (ok %v), want 15", top, ok)
	}
	if c.SP() != cpu.StackBase+1 {
		t.Errorf("SP = %d, want %d", c.SP(), cpu.StackBase+1)
	}
}

func TestEndToEndWithBootstrap(t *testing.T) {
	units := []Unit{{Name: "Sys", Source: `
function Sys.init 0
push constant 7
push constant 8
add
label END
goto END
`}}
	out, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := execute(t, out, nil)

	top, ok := c.StackTop()
	if !ok || top != 15 {
		t.Fatalf("stack top = %d (ok %v), want 15", top, ok)
	}
	// Bootstrap frame (5 words) plus the result.
	if c.SP() != cpu.StackBase+frameSize+1 {
		t.Errorf("SP = %d, want %d", c.SP(), cpu.StackBase+frameSize+1)
	}
}

func TestBootstrapPrologue(t *testing.T) {
	tr := New()
	tr.Bootstrap()
	lines := strings.Split(strings.TrimSpace(tr.String()), "\n")
	want := []string{"@256", "D=A", "@SP", "M=D", "@Bootstrap$ret$0"}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if !strings.Contains(tr.String(), "@Sys.init\n0;JMP\n(Bootstrap$ret$0)\n") {
		t.Errorf("bootstrap does not call Sys.init:\n%s", tr.String())
	}

	tr = New(WithEntryPoint("Main.main"))
	tr.Bootstrap()
	if !strings.Contains(tr.String(), "@Main.main\n0;JMP\n") {
		t.Errorf("entry point override ignored:\n%s", tr.String())
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int16
	}{
		{"add", pushValue(1000) + pushValue(-3) + "add\n", 997},
		{"sub", pushValue(5) + pushValue(9) + "sub\n", -4},
		{"sub wraps", pushValue(-32768) + pushValue(1) + "sub\n", 32767},
		{"neg", pushValue(42) + "neg\n", -42},
		{"and", pushValue(0b1100) + pushValue(0b1010) + "and\n", 0b1000},
		{"or", pushValue(0b1100) + pushValue(0b1010) + "or\n", 0b1110},
		{"not", pushValue(0) + "not\n", -1},
		{"shiftleft", pushValue(3) + "shiftleft\n", 6},
		{"shiftright", pushValue(40) + "shiftright\n", 20},
		{"shiftright negative", pushValue(-8) + "shiftright\n", -4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := execute(t, translate(t, tt.src), seedStack)
			top, ok := c.StackTop()
			if !ok || top != tt.want {
				t.Errorf("top = %d (ok %v), want %d", top, ok, tt.want)
			}
			if c.SP() != cpu.StackBase+1 {
				t.Errorf("SP = %d, want %d", c.SP(), cpu.StackBase+1)
			}
		})
	}
}

func TestComparisonOverflowSafety(t *testing.T) {
	pairs := [][2]int{
		{32767, -32768},
		{-32768, 32767},
		{-1, 32767},
		{32767, -1},
		{0, -32768},
		{-32768, 0},
		{20000, -20000},
		{-20000, 20000},
		{1, -1},
		{-1, 1},
		{3, 7},
		{7, 3},
		{-7, -3},
		{-3, -7},
		{5, 5},
		{-5, -5},
		{0, 0},
		{32767, 32767},
		{-32768, -32768},
	}
	ops := []struct {
		name string
		fn   func(a, b int) bool
	}{
		{"gt", func(a, b int) bool { return a > b }},
		{"lt", func(a, b int) bool { return a < b }},
		{"eq", func(a, b int) bool { return a == b }},
	}

	for _, p := range pairs {
		for _, op := range ops {
			second, top := p[0], p[1]
			name := fmt.Sprintf("%d %s %d", second, op.name, top)
			t.Run(name, func(t *testing.T) {
				src := pushValue(second) + pushValue(top) + op.name + "\n"
				c, _ := execute(t, translate(t, src), seedStack)

				want := int16(0)
				if op.fn(second, top) {
					want = -1
				}
				got, ok := c.StackTop()
				if !ok || got != want {
					t.Errorf("result = %d (ok %v), want %d", got, ok, want)
				}
				if c.SP() != cpu.StackBase+1 {
					t.Errorf("SP = %d, want %d", c.SP(), cpu.StackBase+1)
				}
			})
		}
	}
}

func TestStackDepthAccounting(t *testing.T) {
	lines := []string{
		"push constant 9",
		"push local 1",
		"push argument 2",
		"push this 0",
		"push that 3",
		"push static 4",
		"push temp 5",
		"push pointer 1",
		"pop local 1",
		"pop argument 0",
		"pop this 2",
		"pop that 1",
		"pop static 0",
		"pop temp 0",
		"pop pointer 0",
		"add", "sub", "and", "or",
		"eq", "gt", "lt",
		"neg", "not", "shiftleft", "shiftright",
		"label HERE",
		"goto HERE",
		"if-goto HERE",
		"function Test.f 0",
		"function Test.g 3",
	}

	start := registers{sp: 300, lcl: 400, arg: 500, this: 600, that: 700}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			cmd, _, err := ParseLine(line, 1)
			if err != nil {
				t.Fatal(err)
			}
			delta, ok := cmd.StackEffect()
			if !ok {
				t.Fatalf("%s has no fixed stack effect", line)
			}

			// goto and if-goto land on the label that follows them.
			src := line + "\nlabel HERE\n"
			if cmd.Op == OpLabel || cmd.Op == OpFunction {
				src = line + "\n"
			}
			c, _ := execute(t, translate(t, src), start.seed)

			if got := int(c.Peek(cpu.AddrSP)); got != int(start.sp)+delta {
				t.Errorf("SP = %d, want %d", got, int(start.sp)+delta)
			}
		})
	}
}

func TestSegmentAccess(t *testing.T) {
	src := `
push constant 3030
pop pointer 0
push constant 3040
pop pointer 1
push constant 11
pop local 2
push constant 22
pop argument 1
push constant 33
pop this 4
push constant 44
pop that 5
push constant 55
pop temp 6
push constant 66
pop static 3
push local 2
push argument 1
add
push this 4
add
push that 5
add
push temp 6
add
push static 3
add
`
	seed := registers{sp: 256, lcl: 300, arg: 400}.seed
	c, a := execute(t, translate(t, src), seed)

	checks := map[uint16]int16{
		cpu.AddrTHIS:     3030,
		cpu.AddrTHAT:     3040,
		302:              11,
		401:              22,
		3034:             33,
		3045:             44,
		cpu.TempBase + 6: 55,
	}
	for addr, want := range checks {
		if got := c.Peek(addr); got != want {
			t.Errorf("RAM[%d] = %d, want %d", addr, got, want)
		}
	}

	staticAddr, ok := a.Symbols().Address(StaticSymbol("Test", 3))
	if !ok {
		t.Fatalf("static symbol %s not allocated", StaticSymbol("Test", 3))
	}
	if got := c.Peek(staticAddr); got != 66 {
		t.Errorf("static 3 = %d, want 66", got)
	}

	top, _ := c.StackTop()
	if top != 11+22+33+44+55+66 {
		t.Errorf("sum = %d, want %d", top, 11+22+33+44+55+66)
	}
	if c.SP() != 257 {
		t.Errorf("SP = %d, want 257", c.SP())
	}
}

func TestCallReturnRoundTrip(t *testing.T) {
	src := `
push constant 10
push constant 3
push constant 4
call Test.sum 2
label DONE
goto DONE

function Test.sum 2
push constant 5000
pop pointer 0
push constant 6000
pop pointer 1
push argument 0
push argument 1
add
pop local 0
push constant 99
push local 0
return
`
	before := registers{sp: 256, lcl: 300, arg: 400, this: 3000, that: 4000}
	c, _ := execute(t, translate(t, src), before.seed)

	after := before
	after.sp = 258
	after.check(t, c)

	if got := c.Peek(256); got != 10 {
		t.Errorf("caller's stack below the call changed: RAM[256] = %d", got)
	}
	if got := c.Peek(257); got != 7 {
		t.Errorf("return value = %d, want 7", got)
	}
}

func TestCallWithoutArguments(t *testing.T) {
	src := `
call Test.seven 0
label DONE
goto DONE

function Test.seven 0
push constant 7
return
`
	before := registers{sp: 256, lcl: 300, arg: 400, this: 3000, that: 4000}
	c, _ := execute(t, translate(t, src), before.seed)

	after := before
	after.sp = 257
	after.check(t, c)
	if top, _ := c.StackTop(); top != 7 {
		t.Errorf("return value = %d, want 7", top)
	}
}

func TestRecursion(t *testing.T) {
	units := []Unit{
		{Name: "Main", Source: `
function Main.sum 0
push argument 0
push constant 0
eq
if-goto BASE
push argument 0
push argument 0
push constant 1
sub
call Main.sum 1
add
return
label BASE
push constant 0
return
`},
		{Name: "Sys", Source: `
function Sys.init 0
push constant 20
call Main.sum 1
pop temp 0
label END
goto END
`},
	}
	out, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := execute(t, out, nil)
	if got := c.Peek(cpu.TempBase); got != 210 {
		t.Errorf("sum(20) = %d, want 210", got)
	}
}

func TestLabelNonInterference(t *testing.T) {
	units := []Unit{
		{Name: "A", Source: `
function A.f 0
goto SKIP
push constant 111
return
label SKIP
push constant 1
return
`},
		{Name: "B", Source: `
function B.g 0
goto SKIP
label SKIP
push constant 2
return
`},
		{Name: "Sys", Source: `
function Sys.init 0
call A.f 0
call B.g 0
add
pop temp 0
label SKIP
goto SKIP
`},
	}
	out, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"(A.f$SKIP)", "(B.g$SKIP)", "(Sys.init$SKIP)", "@B.g$SKIP\n0;JMP"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	c, _ := execute(t, out, nil)
	if got := c.Peek(cpu.TempBase); got != 3 {
		t.Errorf("A.f() + B.g() = %d, want 3", got)
	}
}

var labelDecl = regexp.MustCompile(`(?m)^\((.+)\)$`)

func TestGeneratedLabelsUnique(t *testing.T) {
	var main strings.Builder
	main.WriteString("function Main.main 0\n")
	for i := 0; i < 5; i++ {
		main.WriteString("push constant 1\npush constant 2\nlt\ncall Main.helper 2\n")
	}
	main.WriteString("return\nfunction Main.helper 0\npush constant 0\nreturn\n")

	units := []Unit{
		{Name: "Main", Source: main.String()},
		{Name: "Other", Source: "function Other.run 0\neq\ngt\ncall Main.helper 0\nreturn\n"},
		// Top-level code in a unit shares the unit's call counter.
		{Name: "Loose", Source: "call Main.helper 0\n"},
		{Name: "Loose", Source: "call Main.helper 0\neq\n"},
	}
	out, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for _, m := range labelDecl.FindAllStringSubmatch(out, -1) {
		if seen[m[1]] {
			t.Errorf("label %q declared twice", m[1])
		}
		seen[m[1]] = true
	}
	for _, want := range []string{
		ReturnLabel(BootstrapContext, 0),
		ReturnLabel("Main.main", 4),
		ReturnLabel("Other.run", 0),
		ReturnLabel("Loose", 0),
		ReturnLabel("Loose", 1),
		CompareLabel("Main", 4, "END"),
		CompareLabel("Other", 5, "TRUE"),
		CompareLabel("Loose", 7, "SAME"),
	} {
		if !seen[want] {
			t.Errorf("expected label %q", want)
		}
	}
}

func TestLabelHelpers(t *testing.T) {
	if got := ReturnLabel("Main.main", 3); got != "Main.main$ret$3" {
		t.Errorf("ReturnLabel = %q", got)
	}
	if got := CompareLabel("Main", 12, "TRUE"); got != "Main$cmp$12.TRUE" {
		t.Errorf("CompareLabel = %q", got)
	}
	if got := StaticSymbol("Foo", 2); got != "Foo.2" {
		t.Errorf("StaticSymbol = %q", got)
	}
}

func TestStaticsArePerUnit(t *testing.T) {
	units := []Unit{
		{Name: "Bar", Source: "function Bar.set 0\npush constant 2\npop static 0\npush constant 0\nreturn\n"},
		{Name: "Foo", Source: "function Foo.set 0\npush constant 1\npop static 0\npush constant 0\nreturn\n"},
		{Name: "Sys", Source: "function Sys.init 0\ncall Foo.set 0\ncall Bar.set 0\nlabel END\ngoto END\n"},
	}
	out, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}
	c, a := execute(t, out, nil)

	for name, want := range map[string]int16{"Foo.0": 1, "Bar.0": 2} {
		addr, ok := a.Symbols().Address(name)
		if !ok {
			t.Fatalf("%s not allocated", name)
		}
		if got := c.Peek(addr); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestRejectedCommandLeavesStateUntouched(t *testing.T) {
	tr := New()
	if err := tr.SetUnit("Main"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Translate(Command{Op: OpEq}); err != nil {
		t.Fatal(err)
	}
	before := tr.String()

	bad := []Command{
		{Op: OpPop, Segment: SegConstant, Index: 0},
		{Op: OpPush, Segment: SegTemp, Index: 8},
		{Op: OpCall, Name: "", N: 0},
		{Op: Op(99)},
	}
	for _, cmd := range bad {
		if err := tr.Translate(cmd); err == nil {
			t.Errorf("Translate(%+v) succeeded", cmd)
		}
	}
	if tr.String() != before {
		t.Fatal("rejected commands changed the output")
	}

	if err := tr.Translate(Command{Op: OpGt}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.String(), "("+CompareLabel("Main", 1, "END")+")") {
		t.Error("comparison counter did not continue from 1")
	}
}

func TestStaticAndCompareNeedUnit(t *testing.T) {
	tr := New()
	err := tr.Translate(Command{Op: OpPush, Segment: SegStatic, Index: 0})
	if !errors.Is(err, ErrBadUnit) {
		t.Errorf("static without unit: %v", err)
	}
	if err := tr.Translate(Command{Op: OpLt}); !errors.Is(err, ErrBadUnit) {
		t.Errorf("comparison without unit: %v", err)
	}
	if err := tr.Translate(Command{Op: OpPush, Segment: SegConstant, Index: 1}); err != nil {
		t.Errorf("constant without unit: %v", err)
	}
}

func TestSetUnitRejects(t *testing.T) {
	tr := New()
	for _, name := range []string{
		"", "a$b", "has space", "tab\tname",
		"7seg", "a(b", "a)b", "x@y", "a=b", "a;b", "a//b",
	} {
		if err := tr.SetUnit(name); !errors.Is(err, ErrBadUnit) {
			t.Errorf("SetUnit(%q) = %v, want ErrBadUnit", name, err)
		}
	}

	_, err := TranslateProgram([]Unit{{Name: "7seg", Source: "push constant 1\npop static 0\n"}}, false)
	if !errors.Is(err, ErrBadUnit) {
		t.Errorf("TranslateProgram with unit 7seg = %v, want ErrBadUnit", err)
	}
}

func TestAcceptedUnitNamesAssemble(t *testing.T) {
	src := "push constant 3\npush constant 4\nlt\npop static 0\nlabel L\npush static 0\nif-goto L\n"
	for _, name := range []string{"Seg7", "my-unit", "_x", "a.b"} {
		out, err := TranslateProgram([]Unit{{Name: name, Source: src}}, false)
		if err != nil {
			t.Errorf("unit %q: %v", name, err)
			continue
		}
		if _, _, err := asm.AssembleWords(out); err != nil {
			t.Errorf("unit %q does not assemble: %v", name, err)
		}
	}
}

func TestFunctionNamesAvoidAssemblerSymbols(t *testing.T) {
	for _, name := range []string{"R13", "SP", "THAT", "SCREEN", "Sys.0", "Main.42"} {
		tr := New()
		if err := tr.SetUnit("Sys"); err != nil {
			t.Fatal(err)
		}
		for _, op := range []Op{OpFunction, OpCall} {
			err := tr.Translate(Command{Op: op, Name: name})
			if !errors.Is(err, ErrBadName) {
				t.Errorf("%s %s = %v, want ErrBadName", op, name, err)
			}
		}
		if len(tr.Instructions()) != 0 {
			t.Errorf("%s: rejected command emitted code", name)
		}
	}

	// Names that only resemble a static slot are ordinary functions.
	src := `function Sys.init 0
push constant 5
call Sys.0x 1
pop static 0
label HALT
goto HALT
function Sys.0x 0
push argument 0
push constant 1
add
return
`
	out, err := TranslateProgram([]Unit{{Name: "Sys", Source: src}}, true)
	if err != nil {
		t.Fatal(err)
	}
	c, a := execute(t, out, nil)
	addr, ok := a.Symbols().Address("Sys.0")
	if !ok {
		t.Fatal("Sys.0 not allocated")
	}
	if addr != cpu.VariableBase {
		t.Errorf("Sys.0 at %d, want the first variable slot %d", addr, cpu.VariableBase)
	}
	if got := c.Peek(addr); got != 6 {
		t.Errorf("Sys.0 = %d, want 6", got)
	}
}

func TestTranslateUnitErrors(t *testing.T) {
	tr := New()
	err := tr.TranslateUnit("Broken", "push constant 1\npush nowhere 2\n")
	if !errors.Is(err, ErrBadSegment) {
		t.Fatalf("error = %v, want ErrBadSegment", err)
	}
	var lineErr *LineError
	if !errors.As(err, &lineErr) || lineErr.Line != 2 {
		t.Errorf("expected LineError on line 2, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Broken: ") {
		t.Errorf("error %q does not name the unit", err)
	}
}

func TestComments(t *testing.T) {
	src := "push constant 7\npush constant 8\nlt\n"
	units := []Unit{{Name: "Sys", Source: "function Sys.init 0\n" + src + "label END\ngoto END\n"}}

	plain, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}
	annotated, err := TranslateProgram(units, true, WithComments(true))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(plain, "//") {
		t.Error("comments emitted without WithComments")
	}
	for _, want := range []string{"// bootstrap", "// push constant 7", "// lt", "// function Sys.init 0"} {
		if !strings.Contains(annotated, want) {
			t.Errorf("annotated output missing %q", want)
		}
	}

	plainWords, err := asm.Assemble(plain)
	if err != nil {
		t.Fatal(err)
	}
	annotatedWords, err := asm.Assemble(annotated)
	if err != nil {
		t.Fatal(err)
	}
	if plainWords != annotatedWords {
		t.Error("comments changed the assembled program")
	}
}

func TestDeterministic(t *testing.T) {
	units := []Unit{
		{Name: "Main", Source: "function Main.main 1\npush constant 3\npush constant 4\ngt\ncall Main.main 1\nreturn\n"},
		{Name: "Sys", Source: "function Sys.init 0\ncall Main.main 0\nlabel L\ngoto L\n"},
	}
	first, err := TranslateProgram(units, true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := TranslateProgram(units, true)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("run %d differs from the first run", i+1)
		}
	}
}

func TestInstructionsCountMatchesAssembly(t *testing.T) {
	tr := New()
	tr.Bootstrap()
	if err := tr.TranslateUnit("Main", "function Main.main 0\npush constant 1\neq\nreturn\n"); err != nil {
		t.Fatal(err)
	}
	var n int
	for _, in := range tr.Instructions() {
		if in.IsInstruction() {
			n++
		}
	}
	words, _, err := asm.AssembleWords(tr.String())
	if err != nil {
		t.Fatal(err)
	}
	if n != len(words) {
		t.Errorf("%d instructions emitted, %d words assembled", n, len(words))
	}
}

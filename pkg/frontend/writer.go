package frontend

import (
	"fmt"
	"io"

	"hackchain/pkg/vm"
)

// Writer emits stack-machine commands as text. The first write error is
// kept and every later write becomes a no-op; check Err once at the end.
type Writer struct {
	out io.Writer
	err error
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(cmd vm.Command) {
	if w.err != nil {
		return
	}
	if err := cmd.Validate(); err != nil {
		w.err = fmt.Errorf("writing %q: %w", cmd.String(), err)
		return
	}
	if _, err := fmt.Fprintln(w.out, cmd.String()); err != nil {
		w.err = err
	}
}

func (w *Writer) WritePush(seg vm.Segment, index int) {
	w.write(vm.Command{Op: vm.OpPush, Segment: seg, Index: index})
}

func (w *Writer) WritePop(seg vm.Segment, index int) {
	w.write(vm.Command{Op: vm.OpPop, Segment: seg, Index: index})
}

// WriteVariable pushes or pops a symbol through the segment of its kind.
func (w *Writer) WriteVariable(sym Symbol, push bool) {
	seg, ok := sym.Kind.Segment()
	if !ok {
		if w.err == nil {
			w.err = fmt.Errorf("variable %q has no segment", sym.Name)
		}
		return
	}
	if push {
		w.WritePush(seg, sym.Index)
	} else {
		w.WritePop(seg, sym.Index)
	}
}

// WriteArithmetic accepts the arithmetic, logical and shift operations.
func (w *Writer) WriteArithmetic(op vm.Op) {
	if !op.IsBinary() && !op.IsUnary() {
		if w.err == nil {
			w.err = fmt.Errorf("%v is not an arithmetic command", op)
		}
		return
	}
	w.write(vm.Command{Op: op})
}

func (w *Writer) WriteLabel(name string) {
	w.write(vm.Command{Op: vm.OpLabel, Name: name})
}

func (w *Writer) WriteGoto(name string) {
	w.write(vm.Command{Op: vm.OpGoto, Name: name})
}

func (w *Writer) WriteIf(name string) {
	w.write(vm.Command{Op: vm.OpIfGoto, Name: name})
}

func (w *Writer) WriteCall(name string, nArgs int) {
	w.write(vm.Command{Op: vm.OpCall, Name: name, N: nArgs})
}

func (w *Writer) WriteFunction(name string, nLocals int) {
	w.write(vm.Command{Op: vm.OpFunction, Name: name, N: nLocals})
}

func (w *Writer) WriteReturn() {
	w.write(vm.Command{Op: vm.OpReturn})
}

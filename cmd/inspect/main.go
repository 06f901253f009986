package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora"

	"hackchain/pkg/asm"
	"hackchain/pkg/cpu"
	"hackchain/pkg/utils"
	"hackchain/pkg/vm"
)

const testSource = `push constant 7
push constant 8
lt
if-goto LESS
push constant 0
label LESS
`

type options struct {
	color     bool
	dump      bool
	mnemonics bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.color, "color", false, "colorize the listing")
	flag.BoolVar(&opts.dump, "dump", false, "dump the parsed commands")
	flag.BoolVar(&opts.mnemonics, "mnemonics", false, "list the compute mnemonics and exit")
	flag.Parse()

	if opts.mnemonics {
		listMnemonics(os.Stdout, aurora.NewAurora(opts.color))
		return
	}

	src := testSource
	name := "Inspect"
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
		name = utils.UnitName(flag.Arg(0))
	}

	if err := inspect(os.Stdout, name, src, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listMnemonics prints every accepted comp mnemonic with its prefix and
// "a cccccc" bits. Shift operations are flagged.
func listMnemonics(w io.Writer, au aurora.Aurora) {
	fmt.Fprintln(w, "Compute mnemonics")
	for _, m := range cpu.CompMnemonics() {
		prefix, bits, _ := cpu.LookupComp(m)
		kind := ""
		if cpu.IsShift(m) {
			kind = au.Magenta("shift").String()
		}
		fmt.Fprintf(w, "  %-5s %03b %07b %s\n", m, prefix, bits, kind)
	}
}

// colorLine highlights one assembly line: labels magenta, comments green,
// instructions blue.
func colorLine(au aurora.Aurora, line string) string {
	switch {
	case strings.HasPrefix(line, "("):
		return au.Magenta(line).String()
	case strings.HasPrefix(line, "//"):
		return au.Green(line).String()
	}
	return au.Blue(line).String()
}

// inspect prints every command of one unit with its stack effect and the
// assembly it lowers to, then the symbol table of the assembled result.
func inspect(w io.Writer, name, src string, opts options) error {
	au := aurora.NewAurora(opts.color)
	fmt.Fprintf(w, "Source:\n%s\n", src)

	cmds, err := vm.Parse(src)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if opts.dump {
		fmt.Fprintln(w, au.Cyan("Parsed"))
		fmt.Fprint(w, spew.Sdump(cmds))
	}

	t := vm.New()
	if err := t.SetUnit(name); err != nil {
		return err
	}

	fmt.Fprintf(w, "Commands (%d)\n", len(cmds))
	depth := 0
	for _, cmd := range cmds {
		before := len(t.Instructions())
		if err := t.Translate(cmd); err != nil {
			return fmt.Errorf("translate error: %w", err)
		}
		emitted := t.Instructions()[before:]

		effect := "frame"
		if delta, ok := cmd.StackEffect(); ok {
			depth += delta
			effect = fmt.Sprintf("%+d", delta)
		}
		words := 0
		for _, in := range emitted {
			if in.IsInstruction() {
				words++
			}
		}
		fmt.Fprintf(w, "  %4d  %-28s %6s  depth %3d  %3d words\n", cmd.Line, cmd, effect, depth, words)
		for _, in := range emitted {
			fmt.Fprintf(w, "          %s\n", colorLine(au, in.String()))
		}
	}
	fmt.Fprintln(w)

	a := asm.NewAssembler()
	words, _, err := a.AssembleWords(t.String())
	if err != nil {
		return fmt.Errorf("assemble error: %w", err)
	}
	fmt.Fprintf(w, "Assembled %d words\n\n", len(words))
	fmt.Fprint(w, a.Symbols())
	return nil
}

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hackchain/pkg/asm"
	"hackchain/pkg/build"
	"hackchain/pkg/cpu"
	"hackchain/pkg/utils"
)

const defaultSteps = 50_000_000

type app struct {
	verbose bool
}

func (a *app) logf(format string, args ...any) {
	if a.verbose {
		log.Printf(format, args...)
	}
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("hackc: ")
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hackc",
		Short: "Translator, assembler and simulator for the 16-bit stack machine toolchain",
		Long: `hackc lowers stack-machine (.vm) programs to symbolic assembly (.asm),
encodes assembly into binary text (.hack), and runs the result on a
simulator of the target machine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every stage")
	root.AddCommand(
		newAsmCmd(a),
		newVMCmd(a),
		newBuildCmd(a),
		newRunCmd(a),
	)
	return root
}

func newAsmCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "asm FILE.asm",
		Short: "Assemble symbolic assembly into binary text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			full, _, err := utils.GetPathInfo(in)
			if err != nil {
				return err
			}
			a.logf("assembling %s", full)

			src, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("failed to read input file %q: %w", in, err)
			}
			text, err := asm.Assemble(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}

			if out == "" {
				out = utils.OutputPath(in, false, build.ExtBinary)
			}
			if err := utils.WriteFileAtomic(out, []byte(text), 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assembled %d words -> %s\n", strings.Count(text, "\n"), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: input with .hack extension)")
	return cmd
}

type translateFlags struct {
	out         string
	bootstrap   bool
	noBootstrap bool
	comments    bool
	entry       string
}

func (f *translateFlags) register(cmd *cobra.Command, outHelp string) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", outHelp)
	cmd.Flags().BoolVar(&f.bootstrap, "bootstrap", false, "emit the bootstrap even for a single file")
	cmd.Flags().BoolVar(&f.noBootstrap, "no-bootstrap", false, "never emit the bootstrap")
	cmd.Flags().BoolVar(&f.comments, "comments", false, "annotate the assembly with the VM commands")
	cmd.Flags().StringVar(&f.entry, "entry", "", "function called by the bootstrap (default Sys.init)")
	cmd.MarkFlagsMutuallyExclusive("bootstrap", "no-bootstrap")
}

func (f *translateFlags) options() build.Options {
	opts := build.Options{Comments: f.comments, EntryPoint: f.entry}
	switch {
	case f.bootstrap:
		opts.Bootstrap = build.BootstrapOn
	case f.noBootstrap:
		opts.Bootstrap = build.BootstrapOff
	}
	return opts
}

func (a *app) translate(path string, f *translateFlags) (*build.Result, error) {
	r, err := build.Translate(path, f.options())
	if err != nil {
		return nil, err
	}
	for _, u := range r.Units {
		a.logf("translated %s", u)
	}
	return r, nil
}

func newVMCmd(a *app) *cobra.Command {
	f := &translateFlags{}
	cmd := &cobra.Command{
		Use:   "vm PATH",
		Short: "Translate a .vm file or a directory of .vm files into assembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.translate(args[0], f)
			if err != nil {
				return err
			}
			out := f.out
			if out == "" {
				out = utils.OutputPath(args[0], r.IsDir, build.ExtAsm)
			}
			if err := utils.WriteFileAtomic(out, []byte(r.Assembly), 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "translated %d unit(s) -> %s\n", len(r.Units), out)
			return nil
		},
	}
	f.register(cmd, "output file (default: FILE.asm, or DIR/DIR.asm for a directory)")
	return cmd
}

func newBuildCmd(a *app) *cobra.Command {
	f := &translateFlags{}
	cmd := &cobra.Command{
		Use:   "build PATH",
		Short: "Translate and assemble, writing both the .asm and the .hack file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.translate(args[0], f)
			if err != nil {
				return err
			}
			if err := r.Assemble(); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			a.logf("assembled %d words, %d symbols", len(r.Words), len(r.Symbols.Entries()))

			asmOut := f.out
			if asmOut == "" {
				asmOut = utils.OutputPath(args[0], r.IsDir, build.ExtAsm)
			}
			hackOut := utils.OutputPath(asmOut, false, build.ExtBinary)

			// Both files are produced in memory before either is written.
			if err := utils.WriteFileAtomic(asmOut, []byte(r.Assembly), 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", asmOut, err)
			}
			if err := utils.WriteFileAtomic(hackOut, []byte(asm.FormatWords(r.Words)), 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", hackOut, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %d words -> %s, %s\n", len(r.Words), asmOut, hackOut)
			return nil
		},
	}
	f.register(cmd, "assembly output file; the .hack file is written next to it")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		steps      int
		snapshot   string
		restore    string
		screenshot string
		tf         translateFlags
	)
	cmd := &cobra.Command{
		Use:   "run [PATH]",
		Short: "Run a .hack, .asm or .vm program (or a directory) on the simulator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cpu.NewCPU()
			switch {
			case restore != "":
				if err := c.RestoreFromFile(restore); err != nil {
					return fmt.Errorf("failed to restore %q: %w", restore, err)
				}
				a.logf("restored %s at PC=%d after %d steps", restore, c.PC, c.Steps)
			case len(args) == 1:
				r, err := build.Load(args[0], tf.options())
				if err != nil {
					return err
				}
				if len(r.Units) > 0 {
					// VM code without a bootstrap still needs a stack.
					c.Poke(cpu.AddrSP, int16(cpu.StackBase))
				}
				if err := c.Load(r.Words); err != nil {
					return err
				}
				a.logf("loaded %d words from %s", len(r.Words), args[0])
			default:
				return fmt.Errorf("nothing to run: give a PATH or --restore")
			}

			ran := c.RunSteps(steps)
			a.logf("executed %d steps", ran)
			printState(cmd.OutOrStdout(), c)

			if snapshot != "" {
				if err := c.SnapshotToFile(snapshot); err != nil {
					return fmt.Errorf("failed to write snapshot %q: %w", snapshot, err)
				}
				a.logf("snapshot written to %s", snapshot)
			}
			if screenshot != "" {
				if err := c.SaveScreenshot(screenshot); err != nil {
					return fmt.Errorf("failed to write screenshot %q: %w", screenshot, err)
				}
				a.logf("screenshot written to %s", screenshot)
			}
			if c.Fault != nil {
				return c.Fault
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", defaultSteps, "maximum number of instructions to execute")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "write the final machine state to this .zip file")
	cmd.Flags().StringVar(&restore, "restore", "", "resume from a snapshot instead of loading PATH")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "save the screen as a PNG file")
	cmd.Flags().BoolVar(&tf.bootstrap, "bootstrap", false, "emit the bootstrap when running a single .vm file")
	cmd.Flags().BoolVar(&tf.noBootstrap, "no-bootstrap", false, "never emit the bootstrap")
	cmd.MarkFlagsMutuallyExclusive("bootstrap", "no-bootstrap")
	cmd.MarkFlagsMutuallyExclusive("restore", "bootstrap")
	return cmd
}

func printState(w io.Writer, c *cpu.CPU) {
	status := "running"
	switch {
	case c.Fault != nil:
		status = "fault"
	case c.Halted:
		status = "halted"
	}
	fmt.Fprintf(w, "%s after %d steps: PC=%d A=%d D=%d SP=%d",
		status, c.Steps, c.PC, int16(c.A), int16(c.D), c.SP())
	if top, ok := c.StackTop(); ok {
		fmt.Fprintf(w, " top=%d", top)
	}
	fmt.Fprintln(w)
}

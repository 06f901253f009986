// Package build runs the toolchain stages over files on disk: VM sources to
// assembly, assembly to binary words, and binary text back to words.
package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hackchain/pkg/asm"
	"hackchain/pkg/utils"
	"hackchain/pkg/vm"
)

const (
	ExtVM     = ".vm"
	ExtAsm    = ".asm"
	ExtBinary = ".hack"
)

type BootstrapMode int

const (
	// BootstrapAuto emits the bootstrap for directories only.
	BootstrapAuto BootstrapMode = iota
	BootstrapOn
	BootstrapOff
)

type Options struct {
	Bootstrap  BootstrapMode
	Comments   bool
	EntryPoint string
}

func (o Options) bootstrap(isDir bool) bool {
	switch o.Bootstrap {
	case BootstrapOn:
		return true
	case BootstrapOff:
		return false
	}
	return isDir
}

func (o Options) translatorOptions() []vm.Option {
	opts := []vm.Option{vm.WithComments(o.Comments)}
	if o.EntryPoint != "" {
		opts = append(opts, vm.WithEntryPoint(o.EntryPoint))
	}
	return opts
}

// Result is everything produced while turning one input into a program.
type Result struct {
	Input string
	IsDir bool
	// Units lists the VM source files in translation order.
	Units []string
	// Assembly is empty when the input was already binary.
	Assembly  string
	Words     []uint16
	SourceMap map[uint16]int
	Symbols   *asm.SymbolTable
}

// hasExt matches the extension of path case-insensitively.
func hasExt(path, ext string) bool {
	return strings.EqualFold(filepath.Ext(path), ext)
}

// ReadUnits loads path (a .vm file or a directory of them) in name order.
func ReadUnits(path string) (units []vm.Unit, files []string, isDir bool, err error) {
	files, isDir, err = utils.SourceFiles(path, ExtVM)
	if err != nil {
		return nil, nil, false, err
	}
	for _, f := range files {
		if !isDir && !hasExt(f, ExtVM) {
			return nil, nil, false, fmt.Errorf("%s: not a %s file", f, ExtVM)
		}
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, false, err
		}
		units = append(units, vm.Unit{Name: utils.UnitName(f), Source: string(src)})
	}
	return units, files, isDir, nil
}

// Translate turns VM sources into assembly text.
func Translate(path string, opts Options) (*Result, error) {
	units, files, isDir, err := ReadUnits(path)
	if err != nil {
		return nil, err
	}
	out, err := vm.TranslateProgram(units, opts.bootstrap(isDir), opts.translatorOptions()...)
	if err != nil {
		return nil, err
	}
	return &Result{Input: path, IsDir: isDir, Units: files, Assembly: out}, nil
}

// Assemble encodes r.Assembly into r.Words.
func (r *Result) Assemble() error {
	a := asm.NewAssembler()
	words, sourceMap, err := a.AssembleWords(r.Assembly)
	if err != nil {
		return err
	}
	r.Words = words
	r.SourceMap = sourceMap
	r.Symbols = a.Symbols()
	return nil
}

// Load accepts a .hack, .asm or .vm file, or a directory of .vm files, and
// returns the program words ready for the simulator.
func Load(path string, opts Options) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var r *Result
	switch {
	case info.IsDir() || hasExt(path, ExtVM):
		r, err = Translate(path, opts)
		if err != nil {
			return nil, err
		}

	case hasExt(path, ExtAsm):
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		r = &Result{Input: path, Assembly: string(src)}

	case hasExt(path, ExtBinary):
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		words, err := asm.ParseWords(string(text))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &Result{Input: path, Words: words}, nil

	default:
		return nil, fmt.Errorf("%s: unsupported input (want %s, %s, %s or a directory)", path, ExtVM, ExtAsm, ExtBinary)
	}

	if err := r.Assemble(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Package asm turns symbolic assembly for the 16-bit target into binary
// instruction words.
//
// Input is one instruction per line: @value, dest=comp;jump or (LABEL).
// Comments after // and whitespace are stripped before counting, so line
// numbers in diagnostics always refer to the original text.
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"hackchain/pkg/cpu"
)

type lineKind int

const (
	kindNone lineKind = iota
	kindAddress
	kindCompute
	kindLabel
)

type Assembler struct {
	symbols *SymbolTable
}

type parsedLine struct {
	lineNo int
	raw    string
	kind   lineKind

	// symbol is the operand of an address instruction or the name of a label.
	symbol string
	// value is set for numeric address instructions.
	value   uint16
	numeric bool

	dest, comp, jump string
}

func NewAssembler() *Assembler {
	return &Assembler{
		symbols: NewSymbolTable(),
	}
}

// Assemble returns one 16-character binary line per real instruction.
func Assemble(code string) (string, error) {
	return NewAssembler().Assemble(code)
}

// AssembleWords returns the encoded program and a map from ROM address to
// input line number.
func AssembleWords(code string) ([]uint16, map[uint16]int, error) {
	return NewAssembler().AssembleWords(code)
}

// Symbols exposes the table built by the most recent run.
func (a *Assembler) Symbols() *SymbolTable {
	return a.symbols
}

func (a *Assembler) Assemble(code string) (string, error) {
	words, _, err := a.AssembleWords(code)
	if err != nil {
		return "", err
	}
	return FormatWords(words), nil
}

func (a *Assembler) AssembleWords(code string) ([]uint16, map[uint16]int, error) {
	// Each run owns a fresh table so symbols never leak between units.
	a.symbols = NewSymbolTable()

	lines, err := parseLines(code)
	if err != nil {
		return nil, nil, err
	}
	if err := a.pass1(lines); err != nil {
		return nil, nil, err
	}
	return a.pass2(lines)
}

// FormatWords renders words as newline-terminated 16-digit binary strings.
func FormatWords(words []uint16) string {
	var sb strings.Builder
	sb.Grow(len(words) * 17)
	for _, w := range words {
		fmt.Fprintf(&sb, "%016b\n", w)
	}
	return sb.String()
}

// ParseWords reads the binary text produced by FormatWords.
func ParseWords(text string) ([]uint16, error) {
	var words []uint16
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if len(line) != 16 {
			return nil, &LineError{Line: i + 1, Text: raw, Err: ErrMalformedInstruction}
		}
		v, err := strconv.ParseUint(line, 2, 16)
		if err != nil {
			return nil, &LineError{Line: i + 1, Text: raw, Err: ErrMalformedInstruction}
		}
		words = append(words, uint16(v))
	}
	return words, nil
}

// parseLines parses every line, reporting all syntax errors together.
func parseLines(code string) ([]parsedLine, error) {
	var (
		lines []parsedLine
		errs  []error
	)
	for i, raw := range strings.Split(code, "\n") {
		p, err := parseLine(raw, i+1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p.kind != kindNone {
			lines = append(lines, p)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return lines, nil
}

// pass1 records every label at the address of the next real instruction.
func (a *Assembler) pass1(lines []parsedLine) error {
	var address uint32

	for _, p := range lines {
		if p.kind == kindLabel {
			if address > cpu.MaxAddress {
				return lineErr(p, fmt.Errorf("%w: label %q points past ROM", ErrAddressRange, p.symbol))
			}
			// First declaration wins; redeclaration is not diagnosed.
			a.symbols.AddEntry(p.symbol, uint16(address))
			continue
		}
		address++
		if address > cpu.MemorySize {
			return lineErr(p, ErrProgramTooLarge)
		}
	}
	return nil
}

func (a *Assembler) pass2(lines []parsedLine) ([]uint16, map[uint16]int, error) {
	program := make([]uint16, 0, len(lines))
	sourceMap := make(map[uint16]int)

	for _, p := range lines {
		switch p.kind {
		case kindLabel:
			continue

		case kindAddress:
			value := p.value
			if !p.numeric {
				addr, err := a.symbols.Allocate(p.symbol)
				if err != nil {
					return nil, nil, lineErr(p, err)
				}
				value = addr
			}
			sourceMap[uint16(len(program))] = p.lineNo
			program = append(program, cpu.EncodeAddress(value))

		case kindCompute:
			word, err := encodeCompute(p)
			if err != nil {
				return nil, nil, err
			}
			sourceMap[uint16(len(program))] = p.lineNo
			program = append(program, word)
		}
	}

	return program, sourceMap, nil
}

func encodeCompute(p parsedLine) (uint16, error) {
	prefix, comp, ok := cpu.LookupComp(p.comp)
	if !ok {
		return 0, lineErr(p, fmt.Errorf("%w: comp %q", ErrUnknownMnemonic, p.comp))
	}
	dest, ok := cpu.LookupDest(p.dest)
	if !ok {
		return 0, lineErr(p, fmt.Errorf("%w: dest %q", ErrUnknownMnemonic, p.dest))
	}
	jump, ok := cpu.LookupJump(p.jump)
	if !ok {
		return 0, lineErr(p, fmt.Errorf("%w: jump %q", ErrUnknownMnemonic, p.jump))
	}
	return cpu.EncodeCompute(prefix, comp, dest, jump), nil
}

// normalize strips a trailing // comment and every whitespace character.
func normalize(raw string) string {
	if idx := strings.Index(raw, "//"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.Join(strings.Fields(raw), "")
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo, raw: strings.TrimSpace(raw)}

	line := normalize(raw)
	if line == "" {
		return p, nil
	}

	switch line[0] {
	case '@':
		p.kind = kindAddress
		operand := line[1:]
		if operand == "" {
			return p, lineErr(p, ErrMalformedInstruction)
		}
		if isDecimal(operand) {
			v, err := strconv.ParseUint(operand, 10, 32)
			if err != nil || v > cpu.MaxAddress {
				return p, lineErr(p, fmt.Errorf("%w: %s", ErrAddressRange, operand))
			}
			p.value = uint16(v)
			p.numeric = true
			return p, nil
		}
		if !isSymbol(operand) {
			return p, lineErr(p, fmt.Errorf("%w: bad symbol %q", ErrMalformedInstruction, operand))
		}
		p.symbol = operand
		return p, nil

	case '(':
		p.kind = kindLabel
		if !strings.HasSuffix(line, ")") {
			return p, lineErr(p, ErrMalformedLabel)
		}
		name := line[1 : len(line)-1]
		if !isSymbol(name) {
			return p, lineErr(p, ErrMalformedLabel)
		}
		p.symbol = name
		return p, nil
	}

	p.kind = kindCompute
	rest := line
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		p.jump = rest[semi+1:]
		rest = rest[:semi]
		if p.jump == "" {
			return p, lineErr(p, ErrMalformedInstruction)
		}
	}
	if eq := strings.IndexByte(rest, '='); eq >= 0 {
		p.dest = rest[:eq]
		rest = rest[eq+1:]
		if p.dest == "" {
			return p, lineErr(p, ErrMalformedInstruction)
		}
	}
	if p.dest == "" && p.jump == "" {
		// A bare comp field has no effect and is not part of the grammar.
		return p, lineErr(p, ErrMalformedInstruction)
	}
	if rest == "" {
		return p, lineErr(p, ErrMalformedInstruction)
	}
	p.comp = rest
	return p, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isSymbol accepts any printable token that does not start with a digit and
// does not contain the instruction delimiters.
func isSymbol(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && unicode.IsDigit(r) {
			return false
		}
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
		switch r {
		case '@', '(', ')', '=', ';':
			return false
		}
	}
	return true
}

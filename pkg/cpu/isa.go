package cpu

import (
	"sort"
	"strconv"
	"strings"
)

// Fixed RAM addresses of the target machine.
const (
	AddrSP     uint16 = 0
	AddrLCL    uint16 = 1
	AddrARG    uint16 = 2
	AddrTHIS   uint16 = 3
	AddrTHAT   uint16 = 4
	AddrSCREEN uint16 = 16384
	AddrKBD    uint16 = 24576

	// VariableBase is the first RAM word handed out to assembler variables.
	VariableBase uint16 = 16
	// StackBase is where the bootstrap points SP.
	StackBase uint16 = 256

	TempBase    uint16 = 5
	TempSize           = 8
	PointerBase uint16 = 3
	PointerSize        = 2

	MemorySize = 32768
	// MaxAddress is the largest value an address instruction can carry.
	MaxAddress = 0x7FFF
)

const (
	ScreenWidth  = 512
	ScreenHeight = 256
	// ScreenWordsPerRow is the number of 16-pixel words in one screen row.
	ScreenWordsPerRow = ScreenWidth / 16
)

// Instruction prefixes (top three bits).
const (
	PrefixCompute uint16 = 0b111
	PrefixShift   uint16 = 0b101
)

// PredefinedSymbols lists every name the assembler knows before it reads a program.
func PredefinedSymbols() map[string]uint16 {
	syms := map[string]uint16{
		"SP":     AddrSP,
		"LCL":    AddrLCL,
		"ARG":    AddrARG,
		"THIS":   AddrTHIS,
		"THAT":   AddrTHAT,
		"SCREEN": AddrSCREEN,
		"KBD":    AddrKBD,
	}
	for i := uint16(0); i < 16; i++ {
		syms["R"+strconv.Itoa(int(i))] = i
	}
	return syms
}

// compTable holds the 7-bit "a cccccc" field for every compute mnemonic.
var compTable = map[string]uint16{
	"0":   0b0101010,
	"1":   0b0111111,
	"-1":  0b0111010,
	"D":   0b0001100,
	"A":   0b0110000,
	"!D":  0b0001101,
	"!A":  0b0110001,
	"-D":  0b0001111,
	"-A":  0b0110011,
	"D+1": 0b0011111,
	"A+1": 0b0110111,
	"D-1": 0b0001110,
	"A-1": 0b0110010,
	"D+A": 0b0000010,
	"D-A": 0b0010011,
	"A-D": 0b0000111,
	"D&A": 0b0000000,
	"D|A": 0b0010101,

	"M":   0b1110000,
	"!M":  0b1110001,
	"-M":  0b1110011,
	"M+1": 0b1110111,
	"M-1": 0b1110010,
	"D+M": 0b1000010,
	"D-M": 0b1010011,
	"M-D": 0b1000111,
	"D&M": 0b1000000,
	"D|M": 0b1010101,
}

// compAliases maps commutative spellings onto their canonical table entry.
var compAliases = map[string]string{
	"1+D": "D+1",
	"1+A": "A+1",
	"1+M": "M+1",
	"A+D": "D+A",
	"M+D": "D+M",
	"A&D": "D&A",
	"M&D": "D&M",
	"A|D": "D|A",
	"M|D": "D|M",
}

// shiftTable holds the "a cccccc" field of the shift instructions.
var shiftTable = map[string]uint16{
	"A<<": 0b0100000,
	"D<<": 0b0110000,
	"M<<": 0b1100000,
	"A>>": 0b0000000,
	"D>>": 0b0010000,
	"M>>": 0b1000000,
}

var jumpTable = map[string]uint16{
	"":    0b000,
	"JGT": 0b001,
	"JEQ": 0b010,
	"JGE": 0b011,
	"JLT": 0b100,
	"JNE": 0b101,
	"JLE": 0b110,
	"JMP": 0b111,
}

// LookupComp returns the instruction prefix and "a cccccc" bits of a compute mnemonic.
func LookupComp(comp string) (prefix, bits uint16, ok bool) {
	if canonical, found := compAliases[comp]; found {
		comp = canonical
	}
	if bits, ok = compTable[comp]; ok {
		return PrefixCompute, bits, true
	}
	if bits, ok = shiftTable[comp]; ok {
		return PrefixShift, bits, true
	}
	return 0, 0, false
}

// LookupDest returns the 3-bit destination field. Letters may appear in any order.
func LookupDest(dest string) (uint16, bool) {
	var bits uint16
	for _, r := range dest {
		var bit uint16
		switch r {
		case 'A':
			bit = 0b100
		case 'D':
			bit = 0b010
		case 'M':
			bit = 0b001
		default:
			return 0, false
		}
		if bits&bit != 0 {
			return 0, false
		}
		bits |= bit
	}
	return bits, true
}

// LookupJump returns the 3-bit jump field. The empty string means no jump.
func LookupJump(jump string) (uint16, bool) {
	bits, ok := jumpTable[jump]
	return bits, ok
}

// EncodeCompute packs a compute or shift instruction into one word.
func EncodeCompute(prefix, comp, dest, jump uint16) uint16 {
	return (prefix << 13) | ((comp & 0x7F) << 6) | ((dest & 0x07) << 3) | (jump & 0x07)
}

// EncodeAddress packs an address instruction. The top bit is always zero.
func EncodeAddress(value uint16) uint16 {
	return value & MaxAddress
}

// CompMnemonics returns every accepted compute mnemonic, sorted.
func CompMnemonics() []string {
	out := make([]string, 0, len(compTable)+len(compAliases)+len(shiftTable))
	for k := range compTable {
		out = append(out, k)
	}
	for k := range compAliases {
		out = append(out, k)
	}
	for k := range shiftTable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsShift reports whether comp names one of the shift operations.
func IsShift(comp string) bool {
	_, ok := shiftTable[strings.TrimSpace(comp)]
	return ok
}

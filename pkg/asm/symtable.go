package asm

import (
	"fmt"
	"sort"
	"strings"

	"hackchain/pkg/cpu"
)

// Symbol is one resolved name.
type Symbol struct {
	Name    string
	Address uint16
}

// SymbolTable maps names to RAM or ROM addresses for a single assembly unit.
// It starts with the machine's predefined names and only ever grows.
type SymbolTable struct {
	entries map[string]uint16
	next    uint32
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		entries: cpu.PredefinedSymbols(),
		next:    uint32(cpu.VariableBase),
	}
}

func (s *SymbolTable) Contains(name string) bool {
	_, ok := s.entries[name]
	return ok
}

func (s *SymbolTable) Address(name string) (uint16, bool) {
	addr, ok := s.entries[name]
	return addr, ok
}

// AddEntry binds name to addr. A name that is already bound keeps its first
// address and AddEntry reports false.
func (s *SymbolTable) AddEntry(name string, addr uint16) bool {
	if _, exists := s.entries[name]; exists {
		return false
	}
	s.entries[name] = addr
	return true
}

// Allocate binds name to the next free variable address. Calling it for a
// name that is already bound returns the existing address.
func (s *SymbolTable) Allocate(name string) (uint16, error) {
	if addr, ok := s.entries[name]; ok {
		return addr, nil
	}
	if s.next > cpu.MaxAddress {
		return 0, fmt.Errorf("%w: no RAM left for variable %q", ErrAddressRange, name)
	}
	addr := uint16(s.next)
	s.entries[name] = addr
	s.next++
	return addr, nil
}

// Entries returns every symbol ordered by address, then name.
func (s *SymbolTable) Entries() []Symbol {
	out := make([]Symbol, 0, len(s.entries))
	for name, addr := range s.entries {
		out = append(out, Symbol{Name: name, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *SymbolTable) String() string {
	var sb strings.Builder
	sb.WriteString("Symbols\n")
	for _, sym := range s.Entries() {
		fmt.Fprintf(&sb, "  %-24s %5d\n", sym.Name, sym.Address)
	}
	return sb.String()
}

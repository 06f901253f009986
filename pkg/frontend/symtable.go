// Package frontend holds the boundary a high-level language compiler uses to
// produce stack-machine code: a two-scope symbol table and a writer that
// emits commands accepted by package vm.
package frontend

import (
	"fmt"
	"sort"
	"strings"

	"hackchain/pkg/vm"
)

type Kind int

const (
	KindNone Kind = iota
	KindStatic
	KindField
	KindArgument
	KindLocal
)

var kindNames = map[Kind]string{
	KindNone:     "none",
	KindStatic:   "static",
	KindField:    "field",
	KindArgument: "argument",
	KindLocal:    "local",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Segment maps a variable kind onto the memory segment that stores it.
// Fields live in the object pointed to by THIS.
func (k Kind) Segment() (vm.Segment, bool) {
	switch k {
	case KindStatic:
		return vm.SegStatic, true
	case KindField:
		return vm.SegThis, true
	case KindArgument:
		return vm.SegArgument, true
	case KindLocal:
		return vm.SegLocal, true
	}
	return 0, false
}

func (k Kind) classScope() bool {
	return k == KindStatic || k == KindField
}

type Symbol struct {
	Name  string
	Type  string
	Kind  Kind
	Index int
}

// SymbolTable keeps class-level names (static, field) and subroutine-level
// names (argument, local) in separate maps. Subroutine names shadow class
// names.
type SymbolTable struct {
	class      map[string]Symbol
	subroutine map[string]Symbol
	counts     map[Kind]int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		class:      make(map[string]Symbol),
		subroutine: make(map[string]Symbol),
		counts:     make(map[Kind]int),
	}
}

// StartSubroutine drops every argument and local and resets their counters.
func (s *SymbolTable) StartSubroutine() {
	s.subroutine = make(map[string]Symbol)
	s.counts[KindArgument] = 0
	s.counts[KindLocal] = 0
}

// Define adds name to the scope its kind belongs to and assigns the next
// index of that kind. Redefining a name in the same scope is an error.
func (s *SymbolTable) Define(name, typ string, kind Kind) (Symbol, error) {
	if _, ok := kind.Segment(); !ok {
		return Symbol{}, fmt.Errorf("define %q: invalid kind %v", name, kind)
	}
	scope := s.subroutine
	if kind.classScope() {
		scope = s.class
	}
	if _, exists := scope[name]; exists {
		return Symbol{}, fmt.Errorf("define %q: already declared in this scope", name)
	}
	sym := Symbol{Name: name, Type: typ, Kind: kind, Index: s.counts[kind]}
	scope[name] = sym
	s.counts[kind]++
	return sym, nil
}

// VarCount is the number of names of the given kind in the current scopes.
func (s *SymbolTable) VarCount(kind Kind) int {
	return s.counts[kind]
}

func (s *SymbolTable) Lookup(name string) (Symbol, bool) {
	if sym, ok := s.subroutine[name]; ok {
		return sym, true
	}
	sym, ok := s.class[name]
	return sym, ok
}

// KindOf returns KindNone for unknown names.
func (s *SymbolTable) KindOf(name string) Kind {
	sym, ok := s.Lookup(name)
	if !ok {
		return KindNone
	}
	return sym.Kind
}

func (s *SymbolTable) TypeOf(name string) (string, bool) {
	sym, ok := s.Lookup(name)
	return sym.Type, ok
}

func (s *SymbolTable) IndexOf(name string) (int, bool) {
	sym, ok := s.Lookup(name)
	return sym.Index, ok
}

// Dump lists both scopes ordered by kind and index.
func (s *SymbolTable) Dump() string {
	var all []Symbol
	for _, sym := range s.class {
		all = append(all, sym)
	}
	for _, sym := range s.subroutine {
		all = append(all, sym)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Kind != all[j].Kind {
			return all[i].Kind < all[j].Kind
		}
		return all[i].Index < all[j].Index
	})

	var sb strings.Builder
	for _, sym := range all {
		fmt.Fprintf(&sb, "%-10s %-8s %3d  %s\n", sym.Kind, sym.Type, sym.Index, sym.Name)
	}
	return sb.String()
}

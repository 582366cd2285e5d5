package simhost

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/symbols"
)

// Image answers debug-information and symbol queries for the simulated
// modules. Member and symbol records can be removed or broken to model a
// binary built from different sources.
type Image struct {
	mu      sync.Mutex
	base    uint64
	types   []typeDef
	broken  map[string]bool
	symbols map[string]map[string]uintptr
}

func newImage(base uintptr) *Image {
	img := &Image{
		base:    uint64(base),
		broken:  make(map[string]bool),
		symbols: make(map[string]map[string]uintptr),
	}
	for _, t := range hostTypes {
		t.members = append([]memberDef(nil), t.members...)
		img.types = append(img.types, t)
	}
	return img
}

// Base returns the load address of the host module.
func (img *Image) Base() uintptr { return uintptr(img.base) }

// define records a symbol address in a module.
func (img *Image) define(module, name string, addr uintptr) {
	img.mu.Lock()
	defer img.mu.Unlock()
	key := strings.ToLower(module)
	if img.symbols[key] == nil {
		img.symbols[key] = make(map[string]uintptr)
	}
	img.symbols[key][name] = addr
}

// RemoveSymbol deletes a symbol from a module's symbol table.
func (img *Image) RemoveSymbol(module, name string) {
	img.mu.Lock()
	defer img.mu.Unlock()
	delete(img.symbols[strings.ToLower(module)], name)
}

// RemoveMember deletes a member from a type's debug record.
func (img *Image) RemoveMember(typeName, member string) {
	img.mu.Lock()
	defer img.mu.Unlock()
	for i := range img.types {
		if img.types[i].name != typeName {
			continue
		}
		var kept []memberDef
		for _, m := range img.types[i].members {
			if m.name != member {
				kept = append(kept, m)
			}
		}
		img.types[i].members = kept
	}
}

// BreakMember makes every query against one member record fail.
func (img *Image) BreakMember(typeName, member string) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.broken[typeName+"::"+member] = true
}

// Locate implements locate.Locator.
func (img *Image) Locate(module, symbol string) (uintptr, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	addr, ok := img.symbols[strings.ToLower(module)][symbol]
	if !ok {
		e := errors.NotFound(errors.PhaseLocate, "symbol", symbol)
		e.Type = module
		return 0, e
	}
	return addr, nil
}

// Type indices are 1-based; member records are type*1000 + member.
const memberStride = 1000

func (img *Image) typeAt(id symbols.TypeID) (typeDef, error) {
	if id.Module != img.base || id.Index == 0 || int(id.Index) > len(img.types) {
		return typeDef{}, fmt.Errorf("no type record %d", id.Index)
	}
	return img.types[id.Index-1], nil
}

func (img *Image) memberAt(id symbols.TypeID) (typeDef, memberDef, error) {
	t, err := img.typeAt(symbols.TypeID{Module: id.Module, Index: id.Index / memberStride})
	if err != nil {
		return typeDef{}, memberDef{}, err
	}
	i := int(id.Index % memberStride)
	if i >= len(t.members) {
		return typeDef{}, memberDef{}, fmt.Errorf("no member record %d", id.Index)
	}
	m := t.members[i]
	if img.broken[t.name+"::"+m.name] {
		return typeDef{}, memberDef{}, fmt.Errorf("member record %d is damaged", id.Index)
	}
	return t, m, nil
}

// TypeFromName implements symbols.Service.
func (img *Image) TypeFromName(base uint64, name string) (symbols.TypeID, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if base != img.base {
		return symbols.TypeID{}, fmt.Errorf("no module loaded at %#x", base)
	}
	for i, t := range img.types {
		if t.name == name {
			return symbols.TypeID{Module: base, Index: uint32(i + 1)}, nil
		}
	}
	return symbols.TypeID{}, fmt.Errorf("type %q not in debug data", name)
}

// TypeLength implements symbols.Service.
func (img *Image) TypeLength(id symbols.TypeID) (uint64, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	t, err := img.typeAt(id)
	if err != nil {
		return 0, err
	}
	return uint64(t.size), nil
}

// Children implements symbols.Service.
func (img *Image) Children(id symbols.TypeID) ([]symbols.TypeID, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	t, err := img.typeAt(id)
	if err != nil {
		return nil, err
	}
	out := make([]symbols.TypeID, len(t.members))
	for i := range t.members {
		out[i] = symbols.TypeID{Module: id.Module, Index: id.Index*memberStride + uint32(i)}
	}
	return out, nil
}

// ChildOffset implements symbols.Service.
func (img *Image) ChildOffset(id symbols.TypeID) (uint32, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, m, err := img.memberAt(id)
	if err != nil {
		return 0, err
	}
	return uint32(m.offset), nil
}

// ChildName implements symbols.Service.
func (img *Image) ChildName(id symbols.TypeID) (string, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, m, err := img.memberAt(id)
	if err != nil {
		return "", err
	}
	return m.name, nil
}

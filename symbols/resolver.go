package symbols

import (
	"iter"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

// TypeID identifies a type or member record inside one module's debug data.
type TypeID struct {
	Module uint64
	Index  uint32
}

// Service is a debug-information backend.
type Service interface {
	// TypeFromName finds a composite type declared in the module loaded at base.
	TypeFromName(base uint64, name string) (TypeID, error)
	// TypeLength returns the declared size of a type in bytes.
	TypeLength(id TypeID) (uint64, error)
	// Children lists the child records of a type.
	Children(id TypeID) ([]TypeID, error)
	// ChildOffset returns a data member's byte offset inside its parent.
	ChildOffset(id TypeID) (uint32, error)
	// ChildName returns a child record's name.
	ChildName(id TypeID) (string, error)
}

// Member is one declared data member of a composite type.
type Member struct {
	Name   string
	Offset uintptr
}

// Resolver looks up types declared in one module.
type Resolver struct {
	svc  Service
	base uint64
}

// NewResolver creates a resolver for the module loaded at base.
func NewResolver(svc Service, base uintptr) *Resolver {
	return &Resolver{svc: svc, base: uint64(base)}
}

// Type is a resolved composite type.
type Type struct {
	svc  Service
	Name string
	Size uintptr
	id   TypeID
}

// Lookup resolves a composite type by name.
func (r *Resolver) Lookup(name string) (*Type, error) {
	id, err := r.svc.TypeFromName(r.base, name)
	if err != nil {
		e := errors.NotFound(errors.PhaseSymbols, "type", name)
		e.Type = name
		e.Cause = err
		return nil, e
	}
	size, err := r.svc.TypeLength(id)
	if err != nil {
		return nil, errors.New(errors.PhaseSymbols, errors.KindInvalidData).
			Type(name).
			Detail("query type length").
			Cause(err).
			Build()
	}
	return &Type{svc: r.svc, Name: name, Size: uintptr(size), id: id}, nil
}

// Members walks the type's data members from the start on every call.
// Children whose offset or name query fails are skipped.
func (t *Type) Members() iter.Seq[Member] {
	return func(yield func(Member) bool) {
		children, err := t.svc.Children(t.id)
		if err != nil {
			Logger().Debug("enumerate children failed",
				zap.String("type", t.Name),
				zap.Error(err))
			return
		}
		for _, child := range children {
			offset, err := t.svc.ChildOffset(child)
			if err != nil {
				continue
			}
			name, err := t.svc.ChildName(child)
			if err != nil {
				continue
			}
			if !yield(Member{Name: name, Offset: uintptr(offset)}) {
				return
			}
		}
	}
}

// Offset returns the byte offset of the named member.
func (t *Type) Offset(member string) (uintptr, error) {
	for m := range t.Members() {
		if m.Name == member {
			return m.Offset, nil
		}
	}
	return 0, errors.MemberMissing(t.Name, member)
}

// Field returns the address of the named member inside the object at base.
func (t *Type) Field(base uintptr, member string) (uintptr, error) {
	off, err := t.Offset(member)
	if err != nil {
		return 0, err
	}
	return base + off, nil
}

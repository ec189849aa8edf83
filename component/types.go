package component

import (
	"fmt"

	"github.com/reconcilerio/static-config/internal/binary"
)

// ValType is a component value type: a primitive, or an index into the type
// index space when Prim is zero.
type ValType struct {
	Index uint32
	Prim  PrimType
}

func (v ValType) String() string {
	if v.Prim != 0 {
		return v.Prim.String()
	}
	return fmt.Sprintf("type %d", v.Index)
}

// Field is a named value type: a record field, a variant case or a function
// parameter. Type is nil for variant cases without a payload.
type Field struct {
	Type *ValType
	Name string
}

// Type is a decoded type definition.
//
// Kind is one of the Type* constructors, or a primitive code when the
// definition is an alias of a primitive.
type Type struct {
	// Fields holds record fields, variant cases and function parameters.
	Fields []Field
	// Names holds flag and enum case names.
	Names []string
	// Elems holds list, option and tuple element types, the ok and err types
	// of a result (nil when absent), own/borrow targets and function results.
	Elems []*ValType
	// Decls holds the declarations of instance and component types.
	Decls []Decl
	Kind  byte
}

// IsFunc reports whether t is a function type.
func (t *Type) IsFunc() bool { return t.Kind == TypeFunc }

// Exports returns the export declarations of an instance or component type.
func (t *Type) Exports() []Decl {
	var out []Decl
	for _, d := range t.Decls {
		if d.Kind == DeclExport {
			out = append(out, d)
		}
	}
	return out
}

// Decl is a declaration inside an instance or component type.
type Decl struct {
	Type  *Type
	Alias *Alias
	Name  string
	Desc  ExternDesc
	Kind  byte
}

// ExternDesc describes an imported or exported item.
type ExternDesc struct {
	Index uint32
	Kind  byte
	Bound byte
}

// refs returns every type index t refers to directly.
func (t *Type) refs() []uint32 {
	var out []uint32
	add := func(v *ValType) {
		if v != nil && v.Prim == 0 {
			out = append(out, v.Index)
		}
	}
	for _, f := range t.Fields {
		add(f.Type)
	}
	for _, e := range t.Elems {
		add(e)
	}
	return out
}

func readValType(r *binary.Reader) (*ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if b >= byte(PrimString) && b <= byte(PrimBool) {
		return &ValType{Prim: PrimType(b)}, nil
	}
	// type indices are s33; re-read from the first byte
	idx, err := readS33(r, b)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, fmt.Errorf("invalid value type 0x%02x", b)
	}
	return &ValType{Index: uint32(idx)}, nil
}

// readS33 decodes a signed LEB128 value whose first byte has already been
// consumed.
func readS33(r *binary.Reader, first byte) (int64, error) {
	var result int64
	var shift uint
	b := first
	for {
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 35 {
			return 0, binary.ErrOverflow
		}
		var err error
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

func readOptionalValType(r *binary.Reader) (*ValType, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0x00:
		return nil, nil
	case 0x01:
		return readValType(r)
	default:
		return nil, fmt.Errorf("invalid option discriminant 0x%02x", present)
	}
}

func readCount(r *binary.Reader, what string) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, fmt.Errorf("read %s count: %w", what, err)
	}
	// every item takes at least one byte
	if int64(n) > int64(r.Len()) {
		return 0, fmt.Errorf("%s count %d exceeds remaining %d bytes", what, n, r.Len())
	}
	return n, nil
}

func readNames(r *binary.Reader, what string) ([]string, error) {
	n, err := readCount(r, what)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", what, i, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func readType(r *binary.Reader) (*Type, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read type byte: %w", err)
	}
	t := &Type{Kind: kind}

	switch kind {
	case TypeRecord:
		n, err := readCount(r, "field")
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			name, err := r.ReadName()
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			vt, err := readValType(r)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			t.Fields = append(t.Fields, Field{Name: name, Type: vt})
		}
	case TypeVariant:
		n, err := readCount(r, "case")
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			name, err := r.ReadName()
			if err != nil {
				return nil, fmt.Errorf("case %d: %w", i, err)
			}
			vt, err := readOptionalValType(r)
			if err != nil {
				return nil, fmt.Errorf("case %s: %w", name, err)
			}
			if refines, err := r.ReadByte(); err != nil {
				return nil, fmt.Errorf("case %s: %w", name, err)
			} else if refines != 0x00 {
				return nil, fmt.Errorf("case %s: refinements are not supported", name)
			}
			t.Fields = append(t.Fields, Field{Name: name, Type: vt})
		}
	case TypeList, TypeOption:
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		t.Elems = []*ValType{vt}
	case TypeTuple:
		n, err := readCount(r, "tuple element")
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			vt, err := readValType(r)
			if err != nil {
				return nil, fmt.Errorf("tuple element %d: %w", i, err)
			}
			t.Elems = append(t.Elems, vt)
		}
	case TypeFlags:
		if t.Names, err = readNames(r, "flag"); err != nil {
			return nil, err
		}
	case TypeEnum:
		if t.Names, err = readNames(r, "enum case"); err != nil {
			return nil, err
		}
	case TypeResult:
		ok, err := readOptionalValType(r)
		if err != nil {
			return nil, fmt.Errorf("result ok: %w", err)
		}
		fail, err := readOptionalValType(r)
		if err != nil {
			return nil, fmt.Errorf("result err: %w", err)
		}
		t.Elems = []*ValType{ok, fail}
	case TypeOwn, TypeBorrow:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		t.Elems = []*ValType{{Index: idx}}
	case TypeFunc:
		if err := readFuncType(r, t); err != nil {
			return nil, err
		}
	case TypeComponent, TypeInstance:
		n, err := readCount(r, "declaration")
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			d, err := readDecl(r, kind == TypeComponent)
			if err != nil {
				return nil, fmt.Errorf("declaration %d: %w", i, err)
			}
			t.Decls = append(t.Decls, d)
		}
	default:
		if kind >= byte(PrimString) && kind <= byte(PrimBool) {
			return t, nil
		}
		return nil, fmt.Errorf("unsupported type constructor 0x%02x", kind)
	}
	return t, nil
}

func readFuncType(r *binary.Reader, t *Type) error {
	n, err := readCount(r, "param")
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		vt, err := readValType(r)
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		t.Fields = append(t.Fields, Field{Name: name, Type: vt})
	}

	// resultlist is a discriminated union, not a vector
	disc, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read result discriminant: %w", err)
	}
	switch disc {
	case 0x00:
		vt, err := readValType(r)
		if err != nil {
			return fmt.Errorf("read result type: %w", err)
		}
		t.Elems = []*ValType{vt}
	case 0x01:
		n, err := readCount(r, "result")
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.ReadName(); err != nil {
				return fmt.Errorf("result %d: %w", i, err)
			}
			vt, err := readValType(r)
			if err != nil {
				return fmt.Errorf("result %d: %w", i, err)
			}
			t.Elems = append(t.Elems, vt)
		}
	default:
		return fmt.Errorf("unknown resultlist discriminant: 0x%02x", disc)
	}
	return nil
}

func readDecl(r *binary.Reader, inComponent bool) (Decl, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return Decl{}, fmt.Errorf("read kind: %w", err)
	}
	d := Decl{Kind: kind}

	switch kind {
	case DeclType:
		if d.Type, err = readType(r); err != nil {
			return Decl{}, err
		}
	case DeclAlias:
		a, err := readAlias(r)
		if err != nil {
			return Decl{}, err
		}
		d.Alias = &a
	case DeclImport:
		if !inComponent {
			return Decl{}, fmt.Errorf("import declaration in instance type")
		}
		fallthrough
	case DeclExport:
		if d.Name, err = readExternName(r); err != nil {
			return Decl{}, err
		}
		if d.Desc, err = readExternDesc(r); err != nil {
			return Decl{}, fmt.Errorf("%s: %w", d.Name, err)
		}
	case DeclCoreType:
		return Decl{}, fmt.Errorf("core type declarations are not supported")
	default:
		return Decl{}, fmt.Errorf("unknown declaration kind: 0x%02x", kind)
	}
	return d, nil
}

func readExternName(r *binary.Reader) (string, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("read name kind: %w", err)
	}
	if kind != 0x00 && kind != 0x01 {
		return "", fmt.Errorf("unknown name kind 0x%02x", kind)
	}
	return r.ReadName()
}

func readExternDesc(r *binary.Reader) (ExternDesc, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return ExternDesc{}, fmt.Errorf("read extern kind: %w", err)
	}
	d := ExternDesc{Kind: kind}

	switch kind {
	case ExternCoreModule:
		var b byte
		if b, err = r.ReadByte(); err != nil {
			return ExternDesc{}, err
		}
		if b != CoreSortModule {
			return ExternDesc{}, fmt.Errorf("expected 0x11 after core module kind, got 0x%02x", b)
		}
		d.Index, err = r.ReadU32()
	case ExternType:
		if d.Bound, err = r.ReadByte(); err != nil {
			return ExternDesc{}, err
		}
		switch d.Bound {
		case BoundEq:
			d.Index, err = r.ReadU32()
		case BoundSubResource:
		default:
			return ExternDesc{}, fmt.Errorf("unknown type bound 0x%02x", d.Bound)
		}
	case ExternFunc, ExternComponent, ExternInstance:
		d.Index, err = r.ReadU32()
	case ExternValue:
		return ExternDesc{}, fmt.Errorf("value imports and exports are not supported")
	default:
		return ExternDesc{}, fmt.Errorf("unknown extern kind 0x%02x", kind)
	}
	if err != nil {
		return ExternDesc{}, fmt.Errorf("read type index: %w", err)
	}
	return d, nil
}

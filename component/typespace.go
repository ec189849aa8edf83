package component

import (
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/reconcilerio/static-config/internal/binary"
)

// typeSpace assigns indices to types within one index space: a component
// type section, or the declarations of an instance or component type.
//
// In declaration mode every item is an instance/component declaration and
// type definitions are prefixed with the type declarator; otherwise items
// are bare type definitions.
type typeSpace struct {
	index map[*wit.TypeDef]uint32
	items [][]byte
	count uint32
	decls bool
}

func newTypeSpace(decls bool) *typeSpace {
	return &typeSpace{index: make(map[*wit.TypeDef]uint32), decls: decls}
}

// addType appends a type definition and returns its index.
func (s *typeSpace) addType(def []byte) uint32 {
	if s.decls {
		def = append([]byte{DeclType}, def...)
	}
	s.items = append(s.items, def)
	idx := s.count
	s.count++
	return idx
}

// addDecl appends a declaration that does not define a type.
func (s *typeSpace) addDecl(decl []byte) {
	s.items = append(s.items, decl)
}

// encode writes the items as a vector.
func (s *typeSpace) encode(w *binary.Writer) {
	w.WriteU32(uint32(len(s.items)))
	for _, item := range s.items {
		w.WriteBytes(item)
	}
}

// valType writes t as a valtype, defining any anonymous types it needs.
func (s *typeSpace) valType(w *binary.Writer, t wit.Type) error {
	if code, ok := primitiveCode(t); ok {
		w.Byte(code)
		return nil
	}
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return fmt.Errorf("unsupported type %T", t)
	}
	idx, err := s.typeIndex(td)
	if err != nil {
		return err
	}
	w.WriteS64(int64(idx))
	return nil
}

// typeIndex returns the index of td, defining it anonymously when it has not
// been seen yet. Aliases of primitives are written as the primitive itself.
func (s *typeSpace) typeIndex(td *wit.TypeDef) (uint32, error) {
	if idx, ok := s.index[td]; ok {
		return idx, nil
	}
	if inner, ok := td.Kind.(*wit.TypeDef); ok {
		idx, err := s.typeIndex(inner)
		if err != nil {
			return 0, err
		}
		s.index[td] = idx
		return idx, nil
	}

	def, err := s.defType(td)
	if err != nil {
		return 0, err
	}
	idx := s.addType(def)
	s.index[td] = idx
	return idx, nil
}

// defType encodes the definition of td.
func (s *typeSpace) defType(td *wit.TypeDef) ([]byte, error) {
	w := binary.NewWriter()

	switch kind := td.Kind.(type) {
	case *wit.Record:
		w.Byte(TypeRecord)
		w.WriteU32(uint32(len(kind.Fields)))
		for _, f := range kind.Fields {
			w.WriteName(f.Name)
			if err := s.valType(w, f.Type); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	case *wit.Variant:
		w.Byte(TypeVariant)
		w.WriteU32(uint32(len(kind.Cases)))
		for _, c := range kind.Cases {
			w.WriteName(c.Name)
			if err := s.optionalValType(w, c.Type); err != nil {
				return nil, fmt.Errorf("case %s: %w", c.Name, err)
			}
			w.Byte(0x00) // no refinement
		}
	case *wit.List:
		w.Byte(TypeList)
		if err := s.valType(w, kind.Type); err != nil {
			return nil, err
		}
	case *wit.Tuple:
		w.Byte(TypeTuple)
		w.WriteU32(uint32(len(kind.Types)))
		for _, t := range kind.Types {
			if err := s.valType(w, t); err != nil {
				return nil, err
			}
		}
	case *wit.Flags:
		w.Byte(TypeFlags)
		w.WriteU32(uint32(len(kind.Flags)))
		for _, f := range kind.Flags {
			w.WriteName(f.Name)
		}
	case *wit.Enum:
		w.Byte(TypeEnum)
		w.WriteU32(uint32(len(kind.Cases)))
		for _, c := range kind.Cases {
			w.WriteName(c.Name)
		}
	case *wit.Option:
		w.Byte(TypeOption)
		if err := s.valType(w, kind.Type); err != nil {
			return nil, err
		}
	case *wit.Result:
		w.Byte(TypeResult)
		if err := s.optionalValType(w, kind.OK); err != nil {
			return nil, err
		}
		if err := s.optionalValType(w, kind.Err); err != nil {
			return nil, err
		}
	case wit.Type:
		code, ok := primitiveCode(kind)
		if !ok {
			return nil, fmt.Errorf("unsupported alias target %T", kind)
		}
		w.Byte(code)
	default:
		return nil, fmt.Errorf("unsupported type definition %T", td.Kind)
	}

	return w.Bytes(), nil
}

func (s *typeSpace) optionalValType(w *binary.Writer, t wit.Type) error {
	if t == nil {
		w.Byte(0x00)
		return nil
	}
	w.Byte(0x01)
	return s.valType(w, t)
}

// funcType defines the type of fn and returns its index.
func (s *typeSpace) funcType(fn Func) (uint32, error) {
	w := binary.NewWriter()
	w.Byte(TypeFunc)
	w.WriteU32(uint32(len(fn.Params)))
	for _, p := range fn.Params {
		w.WriteName(p.Name)
		if err := s.valType(w, p.Type); err != nil {
			return 0, fmt.Errorf("func %s param %s: %w", fn.Name, p.Name, err)
		}
	}
	if fn.Result == nil {
		w.Byte(0x01)
		w.Byte(0x00)
	} else {
		w.Byte(0x00)
		if err := s.valType(w, fn.Result); err != nil {
			return 0, fmt.Errorf("func %s result: %w", fn.Name, err)
		}
	}
	return s.addType(w.Bytes()), nil
}

// exportType declares a type export with an equality bound. The export
// introduces a new index which every later use of td refers to.
func (s *typeSpace) exportType(name string, td *wit.TypeDef) error {
	var target uint32
	if inner, ok := td.Kind.(*wit.TypeDef); ok {
		idx, err := s.typeIndex(inner)
		if err != nil {
			return err
		}
		target = idx
	} else {
		def, err := s.defType(td)
		if err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
		target = s.addType(def)
	}

	w := binary.NewWriter()
	w.Byte(DeclExport)
	writeExternName(w, name)
	w.Byte(ExternType)
	w.Byte(BoundEq)
	w.WriteU32(target)
	s.addDecl(w.Bytes())

	s.index[td] = s.count
	s.count++
	return nil
}

// exportFunc declares a function export of the given type.
func (s *typeSpace) exportFunc(name string, typeIdx uint32) {
	w := binary.NewWriter()
	w.Byte(DeclExport)
	writeExternName(w, name)
	w.Byte(ExternFunc)
	w.WriteU32(typeIdx)
	s.addDecl(w.Bytes())
}

// importInstance declares an instance import of the given type.
func (s *typeSpace) importInstance(name string, typeIdx uint32) {
	w := binary.NewWriter()
	w.Byte(DeclImport)
	writeExternName(w, name)
	w.Byte(ExternInstance)
	w.WriteU32(typeIdx)
	s.addDecl(w.Bytes())
}

// exportInstance declares an instance export of the given type.
func (s *typeSpace) exportInstance(name string, typeIdx uint32) {
	w := binary.NewWriter()
	w.Byte(DeclExport)
	writeExternName(w, name)
	w.Byte(ExternInstance)
	w.WriteU32(typeIdx)
	s.addDecl(w.Bytes())
}

// exportComponent declares a component export of the given type.
func (s *typeSpace) exportComponent(name string, typeIdx uint32) {
	w := binary.NewWriter()
	w.Byte(DeclExport)
	writeExternName(w, name)
	w.Byte(ExternComponent)
	w.WriteU32(typeIdx)
	s.addDecl(w.Bytes())
}

func writeExternName(w *binary.Writer, name string) {
	w.Byte(0x00)
	w.WriteName(name)
}

// TypeChildren returns the types a type definition refers to directly.
func TypeChildren(kind wit.TypeDefKind) []wit.Type {
	var out []wit.Type
	switch k := kind.(type) {
	case *wit.Record:
		for _, f := range k.Fields {
			out = append(out, f.Type)
		}
	case *wit.Variant:
		for _, c := range k.Cases {
			if c.Type != nil {
				out = append(out, c.Type)
			}
		}
	case *wit.List:
		out = append(out, k.Type)
	case *wit.Option:
		out = append(out, k.Type)
	case *wit.Tuple:
		out = append(out, k.Types...)
	case *wit.Result:
		if k.OK != nil {
			out = append(out, k.OK)
		}
		if k.Err != nil {
			out = append(out, k.Err)
		}
	case *wit.TypeDef:
		out = append(out, k)
	}
	return out
}

func primitiveCode(t wit.Type) (byte, bool) {
	switch t.(type) {
	case wit.Bool:
		return byte(PrimBool), true
	case wit.S8:
		return byte(PrimS8), true
	case wit.U8:
		return byte(PrimU8), true
	case wit.S16:
		return byte(PrimS16), true
	case wit.U16:
		return byte(PrimU16), true
	case wit.S32:
		return byte(PrimS32), true
	case wit.U32:
		return byte(PrimU32), true
	case wit.S64:
		return byte(PrimS64), true
	case wit.U64:
		return byte(PrimU64), true
	case wit.F32:
		return byte(PrimF32), true
	case wit.F64:
		return byte(PrimF64), true
	case wit.Char:
		return byte(PrimChar), true
	case wit.String:
		return byte(PrimString), true
	default:
		return 0, false
	}
}

// InstanceType encodes the instance type of iface: its named types as type
// exports followed by its functions.
func InstanceType(iface *Interface) ([]byte, error) {
	s := newTypeSpace(true)
	if err := s.declareInterface(iface); err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	w.Byte(TypeInstance)
	s.encode(w)
	return w.Bytes(), nil
}

func (s *typeSpace) declareInterface(iface *Interface) error {
	// named types are exported before any type that refers to them
	names := make(map[*wit.TypeDef]string, len(iface.Types))
	for _, td := range iface.Types {
		names[td.Def] = td.Name
	}
	done := make(map[*wit.TypeDef]bool, len(iface.Types))
	var visit func(td *wit.TypeDef, export bool) error
	visit = func(td *wit.TypeDef, export bool) error {
		if done[td] {
			return nil
		}
		done[td] = true
		for _, child := range TypeChildren(td.Kind) {
			inner, ok := child.(*wit.TypeDef)
			if !ok {
				continue
			}
			_, named := names[inner]
			if err := visit(inner, named); err != nil {
				return err
			}
		}
		if !export {
			return nil
		}
		if err := s.exportType(names[td], td); err != nil {
			return fmt.Errorf("interface %s: %w", iface.Name, err)
		}
		return nil
	}
	for _, td := range iface.Types {
		if err := visit(td.Def, true); err != nil {
			return err
		}
	}
	for _, fn := range iface.Funcs {
		idx, err := s.funcType(fn)
		if err != nil {
			return fmt.Errorf("interface %s: %w", iface.Name, err)
		}
		s.exportFunc(fn.Name, idx)
	}
	return nil
}

// WorldType encodes world as a component type wrapped in an outer component
// type that exports it under the world's qualified name.
func WorldType(world *World) ([]byte, error) {
	inner := newTypeSpace(true)
	for _, iface := range world.Imports {
		ty, err := InstanceType(iface)
		if err != nil {
			return nil, err
		}
		inner.importInstance(iface.Name, inner.addType(ty))
	}
	for _, iface := range world.Exports {
		ty, err := InstanceType(iface)
		if err != nil {
			return nil, err
		}
		inner.exportInstance(iface.Name, inner.addType(ty))
	}

	iw := binary.NewWriter()
	iw.Byte(TypeComponent)
	inner.encode(iw)

	outer := newTypeSpace(true)
	outer.exportComponent(world.Name, outer.addType(iw.Bytes()))

	w := binary.NewWriter()
	w.Byte(TypeComponent)
	outer.encode(w)
	return w.Bytes(), nil
}

package component

import "fmt"

// indexSpaces counts the items defined so far in each index space of a
// component. Type kinds are tracked so function references can be checked;
// a zero kind means the definition is not known locally (an outer alias).
type indexSpaces struct {
	core      map[byte]uint32
	sorts     map[byte]uint32
	typeKinds []byte
}

func newIndexSpaces() *indexSpaces {
	return &indexSpaces{core: make(map[byte]uint32), sorts: make(map[byte]uint32)}
}

func (s *indexSpaces) count(sort byte) uint32 {
	if sort == SortType {
		return uint32(len(s.typeKinds))
	}
	return s.sorts[sort]
}

func (s *indexSpaces) add(sort, typeKind byte) {
	if sort == SortType {
		s.typeKinds = append(s.typeKinds, typeKind)
		return
	}
	s.sorts[sort]++
}

func (s *indexSpaces) typeKind(idx uint32) byte {
	if int(idx) < len(s.typeKinds) {
		return s.typeKinds[idx]
	}
	return 0
}

func sortName(sort byte) string {
	switch sort {
	case SortCore:
		return "core"
	case SortFunc:
		return "func"
	case SortValue:
		return "value"
	case SortType:
		return "type"
	case SortComponent:
		return "component"
	case SortInstance:
		return "instance"
	default:
		return fmt.Sprintf("sort 0x%02x", sort)
	}
}

func checkIndex(what string, idx, count uint32) error {
	if idx >= count {
		return fmt.Errorf("%s index %d out of range (%d defined)", what, idx, count)
	}
	return nil
}

// Check verifies that every index the component uses refers to an item
// defined before it in the index space of the matching sort, and that lifted
// functions and typed exports refer to types of the right kind.
func (c *Component) Check() error {
	s := newIndexSpaces()

	for _, it := range c.order {
		var err error
		switch it.section {
		case SectionCoreModule:
			s.core[CoreSortModule]++
		case SectionComponent:
			s.sorts[SortComponent]++
		case SectionCoreInstance:
			err = c.checkCoreInstance(s, c.CoreInstances[it.index])
			s.core[CoreSortInstance]++
		case SectionAlias:
			err = checkAlias(s, c.Aliases[it.index])
		case SectionType:
			t := c.Types[it.index]
			err = checkType(t, uint32(len(s.typeKinds)))
			s.typeKinds = append(s.typeKinds, t.Kind)
		case SectionCanon:
			err = checkCanon(s, c.Canons[it.index])
		case SectionInstance:
			err = checkInstance(s, c.Instances[it.index])
			s.sorts[SortInstance]++
		case SectionImport:
			imp := c.Imports[it.index]
			kind, derr := checkDesc(s, imp.Desc)
			if derr != nil {
				err = fmt.Errorf("import %s: %w", imp.Name, derr)
			}
			addExtern(s, imp.Desc, kind)
		case SectionExport:
			err = checkExport(s, c.Exports[it.index])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Component) checkCoreInstance(s *indexSpaces, inst CoreInstance) error {
	switch inst.Kind {
	case InstanceInstantiate:
		if err := checkIndex("core module", inst.Module, s.core[CoreSortModule]); err != nil {
			return err
		}
		for _, arg := range inst.Args {
			if err := checkIndex("core instance", arg.Instance, s.core[CoreSortInstance]); err != nil {
				return fmt.Errorf("argument %s: %w", arg.Name, err)
			}
		}
	case InstanceFromExports:
		for _, e := range inst.Exports {
			if err := checkIndex("core item", e.Index, s.core[e.Sort]); err != nil {
				return fmt.Errorf("core export %s: %w", e.Name, err)
			}
		}
	}
	return nil
}

func checkAlias(s *indexSpaces, a Alias) error {
	switch a.Target {
	case AliasExport:
		if err := checkIndex("instance", a.Instance, s.sorts[SortInstance]); err != nil {
			return fmt.Errorf("alias %s: %w", a.Name, err)
		}
	case AliasCoreExport:
		if err := checkIndex("core instance", a.Instance, s.core[CoreSortInstance]); err != nil {
			return fmt.Errorf("alias %s: %w", a.Name, err)
		}
	}
	if a.Sort == SortCore {
		s.core[a.CoreSort]++
	} else {
		s.add(a.Sort, 0)
	}
	return nil
}

// checkType checks the type references of t against the count of types
// defined before it, and the declarations of instance and component types
// within their own scope.
func checkType(t *Type, defined uint32) error {
	for _, idx := range t.refs() {
		if err := checkIndex("type", idx, defined); err != nil {
			return err
		}
	}
	if t.Kind == TypeInstance || t.Kind == TypeComponent {
		return checkDecls(t.Decls)
	}
	return nil
}

func checkDecls(decls []Decl) error {
	s := newIndexSpaces()
	for _, d := range decls {
		switch d.Kind {
		case DeclType:
			if err := checkType(d.Type, uint32(len(s.typeKinds))); err != nil {
				return err
			}
			s.typeKinds = append(s.typeKinds, d.Type.Kind)
		case DeclAlias:
			if d.Alias.Sort == SortType {
				s.typeKinds = append(s.typeKinds, 0)
			}
		case DeclImport, DeclExport:
			kind, err := checkDesc(s, d.Desc)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			addExtern(s, d.Desc, kind)
		}
	}
	return nil
}

// checkDesc checks that desc refers to a defined type of the kind its extern
// kind requires and returns the kind of the item it introduces.
func checkDesc(s *indexSpaces, desc ExternDesc) (byte, error) {
	types := uint32(len(s.typeKinds))
	if desc.Kind == ExternType {
		if desc.Bound == BoundSubResource {
			return TypeResource, nil
		}
		if err := checkIndex("type", desc.Index, types); err != nil {
			return 0, err
		}
		return s.typeKind(desc.Index), nil
	}

	if err := checkIndex("type", desc.Index, types); err != nil {
		return 0, err
	}
	want := map[byte]byte{
		ExternFunc:      TypeFunc,
		ExternInstance:  TypeInstance,
		ExternComponent: TypeComponent,
	}[desc.Kind]
	if got := s.typeKind(desc.Index); want != 0 && got != 0 && got != want {
		return 0, fmt.Errorf("type %d has kind 0x%02x, want 0x%02x", desc.Index, got, want)
	}
	return 0, nil
}

// addExtern records the item an import or export declaration introduces.
// Extern kinds 0x01-0x05 share their codes with the matching sorts.
func addExtern(s *indexSpaces, desc ExternDesc, typeKind byte) {
	if desc.Kind == ExternCoreModule {
		s.core[CoreSortModule]++
		return
	}
	s.add(desc.Kind, typeKind)
}

func checkCanon(s *indexSpaces, c Canon) error {
	if mem, ok := c.Option(CanonOptMemory); ok {
		if err := checkIndex("core memory", mem, s.core[CoreSortMemory]); err != nil {
			return err
		}
	}
	for _, kind := range []byte{CanonOptRealloc, CanonOptPostReturn} {
		if idx, ok := c.Option(kind); ok {
			if err := checkIndex("core func", idx, s.core[CoreSortFunc]); err != nil {
				return err
			}
		}
	}

	switch c.Kind {
	case CanonLift:
		if err := checkIndex("core func", c.FuncIndex, s.core[CoreSortFunc]); err != nil {
			return fmt.Errorf("canon lift: %w", err)
		}
		if err := checkIndex("type", c.TypeIndex, s.count(SortType)); err != nil {
			return fmt.Errorf("canon lift: %w", err)
		}
		if kind := s.typeKind(c.TypeIndex); kind != 0 && kind != TypeFunc {
			return fmt.Errorf("canon lift: type %d is not a function type", c.TypeIndex)
		}
		s.sorts[SortFunc]++
	case CanonLower:
		if err := checkIndex("func", c.FuncIndex, s.sorts[SortFunc]); err != nil {
			return fmt.Errorf("canon lower: %w", err)
		}
		s.core[CoreSortFunc]++
	}
	return nil
}

func checkSortIndex(s *indexSpaces, si SortIndex) error {
	count := s.count(si.Sort)
	what := sortName(si.Sort)
	if si.Sort == SortCore {
		count = s.core[si.CoreSort]
	}
	if err := checkIndex(what, si.Index, count); err != nil {
		return fmt.Errorf("%s: %w", si.Name, err)
	}
	return nil
}

func checkInstance(s *indexSpaces, inst Instance) error {
	switch inst.Kind {
	case InstanceInstantiate:
		if err := checkIndex("component", inst.Component, s.sorts[SortComponent]); err != nil {
			return err
		}
		for _, arg := range inst.Args {
			if err := checkSortIndex(s, arg); err != nil {
				return fmt.Errorf("instantiate argument %w", err)
			}
		}
	case InstanceFromExports:
		for _, e := range inst.Exports {
			if err := checkSortIndex(s, e); err != nil {
				return fmt.Errorf("instance export %w", err)
			}
		}
	}
	return nil
}

func checkExport(s *indexSpaces, e Export) error {
	si := SortIndex{Name: e.Name, Sort: e.Sort, Index: e.Index}
	if e.Sort == SortCore {
		si.CoreSort = CoreSortModule
	}
	if err := checkSortIndex(s, si); err != nil {
		return fmt.Errorf("export %w", err)
	}

	kind := byte(0)
	if e.Sort == SortType {
		kind = s.typeKind(e.Index)
	}
	if e.Desc != nil {
		if e.Desc.Kind != e.Sort && !(e.Sort == SortCore && e.Desc.Kind == ExternCoreModule) {
			return fmt.Errorf("export %s: ascribed kind 0x%02x does not match sort %s", e.Name, e.Desc.Kind, sortName(e.Sort))
		}
		if _, err := checkDesc(s, *e.Desc); err != nil {
			return fmt.Errorf("export %s: %w", e.Name, err)
		}
	}

	if e.Sort == SortCore {
		s.core[CoreSortModule]++
	} else {
		s.add(e.Sort, kind)
	}
	return nil
}

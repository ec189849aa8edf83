package component_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/internal/binary"
	"github.com/reconcilerio/static-config/internal/fixture"
)

const storeName = "wasi:config/store@0.2.0-draft"

func storeInterface() *component.Interface {
	errDef := &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "upstream", Type: wit.String{}},
		{Name: "io", Type: wit.String{}},
	}}}
	pair := &wit.TypeDef{Kind: &wit.Tuple{Types: []wit.Type{wit.String{}, wit.String{}}}}
	pairs := &wit.TypeDef{Kind: &wit.List{Type: pair}}
	value := &wit.TypeDef{Kind: &wit.Option{Type: wit.String{}}}

	return &component.Interface{
		Name:  storeName,
		Types: []component.TypeDecl{{Name: "error", Def: errDef}},
		Funcs: []component.Func{
			{
				Name:   "get",
				Params: []component.Param{{Name: "key", Type: wit.String{}}},
				Result: &wit.TypeDef{Kind: &wit.Result{OK: value, Err: errDef}},
			},
			{
				Name:   "get-all",
				Result: &wit.TypeDef{Kind: &wit.Result{OK: pairs, Err: errDef}},
			},
		},
	}
}

func TestBuilderWrapsCoreModule(t *testing.T) {
	core := fixture.Template()
	b, err := component.NewBuilder(core)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.Export(storeInterface()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	b.Custom("component-type:adapter", []byte{1, 2, 3})

	out, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !component.IsComponent(out) {
		t.Fatal("output is not a component")
	}

	c, err := component.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	if len(c.CoreModules) != 1 || !bytes.Equal(c.CoreModules[0], core) {
		t.Error("core module not embedded unchanged")
	}
	if len(c.CoreInstances) != 1 || len(c.CoreInstances[0].Args) != 0 {
		t.Errorf("core instances = %+v", c.CoreInstances)
	}

	exp, ok := c.Export(storeName)
	if !ok {
		t.Fatalf("missing export %s", storeName)
	}
	if exp.Sort != component.SortInstance || exp.Index != 0 {
		t.Errorf("export = %+v", exp)
	}

	if len(c.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(c.Instances))
	}
	var names []string
	for _, e := range c.Instances[0].Exports {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, ","); got != "error,get,get-all" {
		t.Errorf("instance exports = %s", got)
	}

	if len(c.Canons) != 2 {
		t.Fatalf("canons = %d, want 2", len(c.Canons))
	}
	for i, cn := range c.Canons {
		if cn.Kind != component.CanonLift {
			t.Errorf("canon %d kind = %d", i, cn.Kind)
		}
		if _, ok := cn.Option(component.CanonOptPostReturn); !ok {
			t.Errorf("canon %d has no post-return", i)
		}
		if mem, ok := cn.Option(component.CanonOptMemory); !ok || mem != 0 {
			t.Errorf("canon %d memory option = %d, %v", i, mem, ok)
		}
		if !c.Types[cn.TypeIndex].IsFunc() {
			t.Errorf("canon %d type %d is not a function", i, cn.TypeIndex)
		}
	}

	getType := c.Types[c.Canons[0].TypeIndex]
	if len(getType.Fields) != 1 || getType.Fields[0].Name != "key" {
		t.Errorf("get params = %+v", getType.Fields)
	}

	data, ok := c.CustomSection("component-type:adapter")
	if !ok || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("custom section = %v, %v", data, ok)
	}
}

func TestBuilderRejects(t *testing.T) {
	tests := []struct {
		name  string
		iface *component.Interface
		want  string
	}{
		{
			name:  "missing function",
			iface: &component.Interface{Name: storeName, Funcs: []component.Func{{Name: "watch"}}},
			want:  storeName + "#watch",
		},
		{
			name:  "unknown interface",
			iface: &component.Interface{Name: "x", Funcs: []component.Func{{Name: "y"}}},
			want:  "x#y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := component.NewBuilder(fixture.Template())
			if err != nil {
				t.Fatalf("NewBuilder: %v", err)
			}
			err = b.Export(tt.iface)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Export error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	t.Run("duplicate interface", func(t *testing.T) {
		b, err := component.NewBuilder(fixture.Template())
		if err != nil {
			t.Fatalf("NewBuilder: %v", err)
		}
		if err := b.Export(storeInterface()); err != nil {
			t.Fatalf("Export: %v", err)
		}
		if err := b.Export(storeInterface()); err == nil {
			t.Error("expected error for duplicate interface")
		}
	})

	t.Run("not a core module", func(t *testing.T) {
		if _, err := component.NewBuilder([]byte("nope")); err == nil {
			t.Error("expected error")
		}
	})
}

func worldComponent(t *testing.T, world *component.World) []byte {
	t.Helper()
	ty, err := component.WorldType(world)
	if err != nil {
		t.Fatalf("WorldType: %v", err)
	}
	w := binary.NewWriter()
	w.WriteBytes(component.Preamble)
	w.Section(component.SectionType, func(s *binary.Writer) {
		s.WriteU32(1)
		s.WriteBytes(ty)
	})
	w.Section(component.SectionExport, func(s *binary.Writer) {
		s.WriteU32(1)
		s.Byte(0x00)
		s.WriteName("adapter")
		s.Byte(component.SortType)
		s.WriteU32(0)
		s.Byte(0x00)
	})
	return w.Bytes()
}

func TestWorldType(t *testing.T) {
	world := &component.World{
		Name:    "wasi:config/adapter@0.2.0-draft",
		Exports: []*component.Interface{storeInterface()},
	}

	c, err := component.Decode(worldComponent(t, world))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	if len(c.Types) != 1 || c.Types[0].Kind != component.TypeComponent {
		t.Fatalf("types = %+v", c.Types)
	}
	outer := c.Types[0].Exports()
	if len(outer) != 1 || outer[0].Name != world.Name || outer[0].Desc.Kind != component.ExternComponent {
		t.Fatalf("outer exports = %+v", outer)
	}

	inner := c.Types[0].Decls[0].Type
	if inner == nil || inner.Kind != component.TypeComponent {
		t.Fatalf("inner type = %+v", inner)
	}
	exports := inner.Exports()
	if len(exports) != 1 || exports[0].Name != storeName || exports[0].Desc.Kind != component.ExternInstance {
		t.Fatalf("world exports = %+v", exports)
	}

	iface := inner.Decls[exports[0].Desc.Index].Type
	var names []string
	for _, d := range iface.Exports() {
		names = append(names, d.Name)
	}
	if got := strings.Join(names, ","); got != "error,get,get-all" {
		t.Errorf("interface exports = %s", got)
	}
}

func TestWorldTypeImports(t *testing.T) {
	world := &component.World{
		Name:    "example:demo/app",
		Imports: []*component.Interface{{Name: "example:demo/log", Funcs: []component.Func{{Name: "write", Params: []component.Param{{Name: "msg", Type: wit.String{}}}}}}},
		Exports: []*component.Interface{storeInterface()},
	}
	c, err := component.Decode(worldComponent(t, world))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	inner := c.Types[0].Decls[0].Type
	var imports []string
	for _, d := range inner.Decls {
		if d.Kind == component.DeclImport {
			imports = append(imports, d.Name)
		}
	}
	if len(imports) != 1 || imports[0] != "example:demo/log" {
		t.Errorf("imports = %v", imports)
	}
}

func TestWorldTypeUnsupported(t *testing.T) {
	res := &wit.TypeDef{Kind: &wit.Resource{}}
	world := &component.World{
		Name: "example:demo/app",
		Exports: []*component.Interface{{
			Name:  "example:demo/things",
			Types: []component.TypeDecl{{Name: "thing", Def: res}},
		}},
	}
	if _, err := component.WorldType(world); err == nil {
		t.Error("expected error for resource type")
	}
}

func section(id byte, body ...byte) []byte {
	w := binary.NewWriter()
	w.Section(id, func(s *binary.Writer) { s.WriteBytes(body) })
	return w.Bytes()
}

func componentBytes(sections ...[]byte) []byte {
	out := append([]byte(nil), component.Preamble...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func TestDecodeErrors(t *testing.T) {
	core := fixture.Template()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"core module", core, component.ErrNotComponent},
		{"empty", nil, component.ErrNotComponent},
		{"truncated section", append(componentBytes(), component.SectionType, 0x05, 0x01), nil},
		{"trailing bytes", componentBytes(section(component.SectionType, 0x01, 0x7f, 0x00)), nil},
		{"unknown section", componentBytes(section(12, 0x00)), nil},
		{"core type section", componentBytes(section(component.SectionCoreType, 0x00)), nil},
		{"unknown type", componentBytes(section(component.SectionType, 0x01, 0x20)), nil},
		{"export without ascription flag", componentBytes(section(component.SectionExport, 0x01, 0x00, 0x01, 'a', component.SortType, 0x00)), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := component.Decode(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckRejectsDanglingIndices(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "export of undefined instance",
			data: componentBytes(section(component.SectionExport, 0x01, 0x00, 0x01, 'a', component.SortInstance, 0x00, 0x00)),
		},
		{
			name: "lift of undefined core func",
			data: componentBytes(
				section(component.SectionType, 0x01, component.TypeFunc, 0x00, 0x01, 0x00),
				section(component.SectionCanon, 0x01, component.CanonLift, 0x00, 0x00, 0x00, 0x00),
			),
		},
		{
			name: "record field of later type",
			data: componentBytes(section(component.SectionType, 0x01, component.TypeRecord, 0x01, 0x01, 'f', 0x01)),
		},
		{
			name: "lift with non-function type",
			data: componentBytes(
				section(component.SectionCoreModule),
				section(component.SectionCoreInstance, 0x01, 0x00, 0x00, 0x00),
				section(component.SectionAlias, 0x01, component.SortCore, component.CoreSortFunc, component.AliasCoreExport, 0x00, 0x01, 'f'),
				section(component.SectionType, 0x01, component.TypeList, byte(component.PrimU8)),
				section(component.SectionCanon, 0x01, component.CanonLift, 0x00, 0x00, 0x00, 0x00),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := component.Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if err := c.Check(); err == nil {
				t.Error("expected Check to fail")
			}
		})
	}
}

func TestProducers(t *testing.T) {
	var p component.Producers
	p.Add("processed-by", "wit-component", "0.220.0")
	p.Add("processed-by", "static-config", "dev")
	p.Add("processed-by", "static-config", "1.0.0")
	p.Add("language", "Rust", "")

	got, err := component.DecodeProducers(p.Encode())
	if err != nil {
		t.Fatalf("DecodeProducers: %v", err)
	}
	if v, ok := got.Get("processed-by", "static-config"); !ok || v != "1.0.0" {
		t.Errorf("static-config version = %q, %v", v, ok)
	}
	if len(got.Fields) != 2 || len(got.Fields[0].Values) != 2 {
		t.Errorf("fields = %+v", got.Fields)
	}
	if _, err := component.DecodeProducers([]byte{0x01, 0x05}); err == nil {
		t.Error("expected error for truncated payload")
	}
}

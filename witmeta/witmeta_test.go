package witmeta_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/reconcilerio/static-config/component"
	staticerrors "github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/internal/fixture"
	"github.com/reconcilerio/static-config/wasm"
	"github.com/reconcilerio/static-config/witmeta"
)

func TestDefaultPackage(t *testing.T) {
	pkg, err := witmeta.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if pkg.ID() != "wasi:config@0.2.0-draft" {
		t.Errorf("ID = %s", pkg.ID())
	}

	store, ok := pkg.Interface("store")
	if !ok {
		t.Fatal("missing interface store")
	}
	if store.QualifiedName() != "wasi:config/store@0.2.0-draft" {
		t.Errorf("QualifiedName = %s", store.QualifiedName())
	}
	if len(store.Types) != 1 || store.Types[0].Name != "error" {
		t.Fatalf("types = %+v", store.Types)
	}
	v, ok := store.Types[0].Def.Kind.(*wit.Variant)
	if !ok || len(v.Cases) != 2 || v.Cases[0].Name != "upstream" || v.Cases[1].Name != "io" {
		t.Errorf("error type = %#v", store.Types[0].Def.Kind)
	}

	if len(store.Funcs) != 2 {
		t.Fatalf("funcs = %+v", store.Funcs)
	}
	get := store.Funcs[0]
	if get.Name != "get" || len(get.Params) != 1 || get.Params[0].Name != "key" {
		t.Errorf("get = %+v", get)
	}
	res, ok := get.Result.(*wit.TypeDef)
	if !ok {
		t.Fatalf("get result = %T", get.Result)
	}
	r, ok := res.Kind.(*wit.Result)
	if !ok || r.Err != store.Types[0].Def {
		t.Errorf("get result kind = %#v", res.Kind)
	}

	if store.Funcs[1].Name != "get-all" || len(store.Funcs[1].Params) != 0 {
		t.Errorf("get-all = %+v", store.Funcs[1])
	}
}

func TestSelectWorld(t *testing.T) {
	pkg, err := witmeta.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	tests := []struct {
		name    string
		world   string
		want    string
		wantErr bool
	}{
		{"bare name", "adapter", "adapter", false},
		{"package qualified", "wasi:config/adapter", "adapter", false},
		{"version qualified", "wasi:config/adapter@0.2.0-draft", "adapter", false},
		{"other world", "imports", "imports", false},
		{"unknown world", "missing", "", true},
		{"other package", "wasi:http/adapter", "", true},
		{"other version", "wasi:config/adapter@0.1.0", "", true},
		{"ambiguous empty name", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := pkg.SelectWorld(tt.world)
			if tt.wantErr {
				if !errors.Is(err, staticerrors.ErrInput) {
					t.Fatalf("expected input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectWorld: %v", err)
			}
			if w.Name != tt.want {
				t.Errorf("world = %s, want %s", w.Name, tt.want)
			}
		})
	}

	adapter, _ := pkg.SelectWorld("adapter")
	if len(adapter.Exports) != 1 || adapter.Exports[0].Name != "store" || len(adapter.Imports) != 0 {
		t.Errorf("adapter = %+v", adapter)
	}
}

func TestParse(t *testing.T) {
	src := `
package example:demo@1.0.0;

// forward references are resolved at the end of the interface
interface things {
    type id = u64;
    record thing {
        id: id,
        name: string,
        tags: list<tag>,
        %flags: permissions,
    }
    enum tag { red, green, }
    flags permissions { read, write }
    /* block
       comment */
    lookup: func(id: id) -> option<thing>;
    store: func(t: thing) -> result<_, string>;
    clear: func();
    pair: func() -> tuple<u8, s16, f64>;
}

world app {
    import things;
    export example:demo/things@1.0.0;
}
`
	pkg, err := witmeta.Parse("demo.wit", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	things, ok := pkg.Interface("things")
	if !ok {
		t.Fatal("missing interface")
	}

	var names []string
	for _, td := range things.Types {
		names = append(names, td.Name)
	}
	if got := strings.Join(names, ","); got != "id,thing,tag,permissions" {
		t.Errorf("types = %s", got)
	}
	rec := things.Types[1].Def.Kind.(*wit.Record)
	if rec.Fields[3].Name != "flags" || rec.Fields[2].Type.(*wit.TypeDef).Kind.(*wit.List).Type != things.Types[2].Def {
		t.Errorf("record fields = %+v", rec.Fields)
	}
	if _, ok := things.Types[0].Def.Kind.(wit.U64); !ok {
		t.Errorf("id alias = %#v", things.Types[0].Def.Kind)
	}

	if things.Funcs[2].Result != nil {
		t.Errorf("clear result = %v", things.Funcs[2].Result)
	}
	store := things.Funcs[1].Result.(*wit.TypeDef).Kind.(*wit.Result)
	if store.OK != nil {
		t.Errorf("store ok = %v", store.OK)
	}

	app, err := pkg.SelectWorld("app")
	if err != nil {
		t.Fatalf("SelectWorld: %v", err)
	}
	if len(app.Imports) != 1 || len(app.Exports) != 1 || app.Exports[0] != things {
		t.Errorf("app = %+v", app)
	}

	// the whole package must encode
	if _, err := component.WorldType(app.Component()); err != nil {
		t.Errorf("WorldType: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing package", `interface x {}`, "package"},
		{"undefined type", "package a:b;\ninterface x {\n  f: func() -> nope;\n}", "undefined type nope"},
		{"recursive type", "package a:b;\ninterface x {\n  record r { next: option<r> }\n}", "recursive"},
		{"duplicate type", "package a:b;\ninterface x {\n  type t = u8;\n  type t = u16;\n}", "declared twice"},
		{"unresolved interface", "package a:b;\nworld w { export y; }", "unresolved interface y"},
		{"resource", "package a:b;\ninterface x { resource r; }", "not supported"},
		{"use", "package a:b;\ninterface x { use y.{t}; }", "not supported"},
		{"inline world func", "package a:b;\nworld w { export run: func(); }", "not supported"},
		{"unterminated comment", "package a:b; /*", "unterminated"},
		{"bad character", "package a:b; #", "unexpected character"},
		{"missing semicolon", "package a:b;\ninterface x { f: func() }", "expected \";\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := witmeta.Parse("test.wit", tt.src)
			if !errors.Is(err, staticerrors.ErrInput) {
				t.Fatalf("expected input error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func adapterWorld(t *testing.T) *witmeta.World {
	t.Helper()
	pkg, err := witmeta.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	w, err := pkg.SelectWorld(witmeta.DefaultWorld)
	if err != nil {
		t.Fatalf("SelectWorld: %v", err)
	}
	return w
}

func TestEncodeWorld(t *testing.T) {
	var producers component.Producers
	producers.Add(witmeta.ProcessedBy, witmeta.Tool, "1.2.3")

	payload, err := witmeta.EncodeWorld(adapterWorld(t), &producers)
	if err != nil {
		t.Fatalf("EncodeWorld: %v", err)
	}

	c, err := component.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if data, ok := c.CustomSection(witmeta.EncodingSection); !ok || !bytes.Equal(data, []byte{0x04, 0x00}) {
		t.Errorf("encoding section = %v, %v", data, ok)
	}
	if exp, ok := c.Export("adapter"); !ok || exp.Sort != component.SortType {
		t.Errorf("export = %+v, %v", exp, ok)
	}

	s, err := witmeta.Describe(payload)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if s.World != "wasi:config/adapter@0.2.0-draft" {
		t.Errorf("world = %s", s.World)
	}
	if len(s.Exports) != 1 || s.Exports[0] != "wasi:config/store@0.2.0-draft" || len(s.Imports) != 0 {
		t.Errorf("exports/imports = %v/%v", s.Exports, s.Imports)
	}
	if v, ok := s.Producers.Get(witmeta.ProcessedBy, witmeta.Tool); !ok || v != "1.2.3" {
		t.Errorf("producer = %q, %v", v, ok)
	}
}

func TestReattach(t *testing.T) {
	data := fixture.Template()
	m, err := wasm.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	before := len(m.CustomSections())

	meta, err := witmeta.Reattach(m, adapterWorld(t), "1.2.3")
	if err != nil {
		t.Fatalf("Reattach: %v", err)
	}
	if meta.Name != fixture.ComponentTypeSection {
		t.Errorf("section name = %s", meta.Name)
	}

	sections := m.CustomSectionsByPrefix(witmeta.ComponentTypePrefix)
	if len(sections) != 1 || sections[0].ID != meta.ID || !bytes.Equal(sections[0].Data, meta.Payload) {
		t.Fatalf("component-type sections = %+v", sections)
	}
	if len(m.CustomSections()) != before {
		t.Errorf("custom sections = %d, want %d", len(m.CustomSections()), before)
	}

	s, err := witmeta.Describe(meta.Payload)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if v, _ := s.Producers.Get(witmeta.ProcessedBy, witmeta.Tool); v != "1.2.3" {
		t.Errorf("processed-by = %q", v)
	}

	// memory and globals are untouched
	orig, _ := wasm.Parse(data)
	for _, id := range orig.Segments() {
		a, _ := orig.Segment(id)
		b, _ := m.Segment(id)
		if !bytes.Equal(a.Init, b.Init) {
			t.Errorf("segment %d changed", id)
		}
	}

	// a second pass keeps earlier producers and replaces the version
	if _, err := witmeta.Reattach(m, adapterWorld(t), "2.0.0"); err != nil {
		t.Fatalf("second Reattach: %v", err)
	}
	cs := m.CustomSectionsByPrefix(witmeta.ComponentTypePrefix)
	s, err = witmeta.Describe(cs[0].Data)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if v, _ := s.Producers.Get(witmeta.ProcessedBy, witmeta.Tool); v != "2.0.0" {
		t.Errorf("processed-by after second pass = %q", v)
	}
}

func TestReattachRequiresOneSection(t *testing.T) {
	tests := []struct {
		name  string
		types []string
	}{
		{"none", []string{}},
		{"two", []string{"component-type:a", "component-type:b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := fixture.Template(fixture.WithComponentTypes(tt.types...))
			m, err := wasm.Parse(data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			_, err = witmeta.Reattach(m, adapterWorld(t), "1.0.0")
			if !errors.Is(err, staticerrors.ErrFormat) {
				t.Fatalf("expected format error, got %v", err)
			}
			if !bytes.Equal(m.Encode(), data) {
				t.Error("failed reattach modified the module")
			}
		})
	}
}

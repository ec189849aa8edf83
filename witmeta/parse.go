package witmeta

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/reconcilerio/static-config/component"
	staticerrors "github.com/reconcilerio/static-config/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokPunct
	tokVersion
)

type token struct {
	text string
	line int
	kind tokenKind
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits src into tokens, dropping whitespace and comments. The token
// following '@' is lexed as a semantic version.
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unterminated block comment", line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
		case len(toks) > 0 && toks[len(toks)-1].text == "@" && toks[len(toks)-1].kind == tokPunct:
			start := i
			for i < len(src) && isVersionChar(src[i]) {
				i++
			}
			if start == i {
				return nil, fmt.Errorf("line %d: expected version after '@'", line)
			}
			toks = append(toks, token{text: src[start:i], line: line, kind: tokVersion})
		case strings.HasPrefix(src[i:], "->"):
			toks = append(toks, token{text: "->", line: line, kind: tokPunct})
			i += 2
		case strings.ContainsRune("{}()<>,;:=@/.*", rune(c)):
			toks = append(toks, token{text: string(c), line: line, kind: tokPunct})
			i++
		case c == '%' || c == '_' || isIdentChar(c):
			start := i
			i++
			for i < len(src) && isIdentChar(src[i]) {
				i++
			}
			toks = append(toks, token{text: strings.TrimPrefix(src[start:i], "%"), line: line, kind: tokIdent})
		default:
			return nil, fmt.Errorf("line %d: unexpected character %q", line, c)
		}
	}
	return append(toks, token{line: line, kind: tokEOF}), nil
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

func isVersionChar(c byte) bool {
	return c == '.' || c == '+' || isIdentChar(c)
}

type parser struct {
	toks     []token
	pos      int
	pkg      *Package
	pending  []worldRef
	filename string
}

// worldRef is an import or export of a world, resolved once every interface
// of the package is known.
type worldRef struct {
	world  *World
	path   string
	line   int
	export bool
}

// Parse parses a WIT package. It supports the subset configuration providers
// use: a package declaration, interfaces with type aliases, records,
// variants, enums, flags and functions, and worlds importing and exporting
// interfaces of the same package. Failures are input errors naming filename
// and the offending line.
func Parse(filename, src string) (*Package, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, parseError(filename, err)
	}
	p := &parser{toks: toks, filename: filename}
	if err := p.parsePackage(); err != nil {
		return nil, parseError(filename, err)
	}
	return p.pkg, nil
}

func parseError(filename string, err error) error {
	return staticerrors.New(staticerrors.PhaseMetadata, staticerrors.KindInput).
		Detail("invalid WIT in %s", filename).
		Cause(err).
		Build()
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", t.line, fmt.Sprintf(format, args...))
}

func (p *parser) expect(text string) error {
	t := p.next()
	if t.text != text {
		return p.errorf(t, "expected %q, got %s", text, t)
	}
	return nil
}

func (p *parser) accept(text string) bool {
	if t := p.peek(); t.text == text && t.kind == tokPunct {
		p.pos++
		return true
	}
	return false
}

func (p *parser) ident() (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", p.errorf(t, "expected identifier, got %s", t)
	}
	return t.text, nil
}

func (p *parser) parsePackage() error {
	t := p.next()
	if t.kind != tokIdent || t.text != "package" {
		return p.errorf(t, "expected package declaration, got %s", t)
	}
	pkg := &Package{}
	var err error
	if pkg.Namespace, err = p.ident(); err != nil {
		return err
	}
	if err := p.expect(":"); err != nil {
		return err
	}
	if pkg.Name, err = p.ident(); err != nil {
		return err
	}
	if p.accept("@") {
		pkg.Version = p.next().text
	}
	if err := p.expect(";"); err != nil {
		return err
	}
	p.pkg = pkg

	for p.peek().kind != tokEOF {
		t := p.next()
		switch t.text {
		case "interface":
			if err := p.parseInterface(); err != nil {
				return err
			}
		case "world":
			if err := p.parseWorld(); err != nil {
				return err
			}
		case "use":
			return p.errorf(t, "top-level use is not supported")
		default:
			return p.errorf(t, "expected interface or world, got %s", t)
		}
	}

	return p.resolveWorlds()
}

// scope tracks the named types of one interface. References create
// placeholders that a later definition fills in.
type scope struct {
	iface   *Interface
	named   map[string]*wit.TypeDef
	defined map[string]bool
	refLine map[string]int
}

func (s *scope) ref(name string, line int) *wit.TypeDef {
	td, ok := s.named[name]
	if !ok {
		td = &wit.TypeDef{}
		s.named[name] = td
		s.refLine[name] = line
	}
	return td
}

func (p *parser) parseInterface() error {
	name, err := p.ident()
	if err != nil {
		return err
	}
	if _, exists := p.pkg.Interface(name); exists {
		return p.errorf(p.toks[p.pos-1], "interface %s declared twice", name)
	}
	iface := &Interface{pkg: p.pkg, Name: name}
	s := &scope{
		iface:   iface,
		named:   make(map[string]*wit.TypeDef),
		defined: make(map[string]bool),
		refLine: make(map[string]int),
	}
	if err := p.expect("{"); err != nil {
		return err
	}

	for !p.accept("}") {
		t := p.next()
		if t.kind != tokIdent {
			return p.errorf(t, "expected interface item, got %s", t)
		}
		switch t.text {
		case "type":
			err = p.parseAlias(s)
		case "record":
			err = p.parseRecord(s)
		case "variant":
			err = p.parseVariant(s)
		case "enum":
			err = p.parseNames(s, "enum")
		case "flags":
			err = p.parseNames(s, "flags")
		case "use", "resource":
			err = p.errorf(t, "%s is not supported", t.text)
		default:
			err = p.parseFunc(s, t)
		}
		if err != nil {
			return fmt.Errorf("interface %s: %w", name, err)
		}
	}

	for _, typeName := range slices.Sorted(maps.Keys(s.named)) {
		td := s.named[typeName]
		if !s.defined[typeName] {
			return fmt.Errorf("interface %s: line %d: undefined type %s", name, s.refLine[typeName], typeName)
		}
		if err := checkAcyclic(td, map[*wit.TypeDef]bool{}); err != nil {
			return fmt.Errorf("interface %s: type %s: %w", name, typeName, err)
		}
	}

	p.pkg.Interfaces = append(p.pkg.Interfaces, iface)
	return nil
}

// define fills the placeholder for name and records the declaration.
func (p *parser) define(s *scope, name string, line int, kind wit.TypeDefKind) error {
	if s.defined[name] {
		return fmt.Errorf("line %d: type %s declared twice", line, name)
	}
	td := s.ref(name, line)
	td.Kind = kind
	s.defined[name] = true
	s.iface.Types = append(s.iface.Types, component.TypeDecl{Name: name, Def: td})
	return nil
}

func (p *parser) parseAlias(s *scope) error {
	line := p.peek().line
	name, err := p.ident()
	if err != nil {
		return err
	}
	if err := p.expect("="); err != nil {
		return err
	}
	target, err := p.parseType(s)
	if err != nil {
		return err
	}
	if err := p.expect(";"); err != nil {
		return err
	}
	return p.define(s, name, line, target)
}

func (p *parser) parseRecord(s *scope) error {
	line := p.peek().line
	name, err := p.ident()
	if err != nil {
		return err
	}
	rec := &wit.Record{}
	err = p.commaList(func() error {
		field, err := p.ident()
		if err != nil {
			return err
		}
		if err := p.expect(":"); err != nil {
			return err
		}
		t, err := p.parseType(s)
		if err != nil {
			return err
		}
		rec.Fields = append(rec.Fields, wit.Field{Name: field, Type: t})
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return p.define(s, name, line, rec)
}

func (p *parser) parseVariant(s *scope) error {
	line := p.peek().line
	name, err := p.ident()
	if err != nil {
		return err
	}
	v := &wit.Variant{}
	err = p.commaList(func() error {
		c, err := p.ident()
		if err != nil {
			return err
		}
		var t wit.Type
		if p.accept("(") {
			if t, err = p.parseType(s); err != nil {
				return err
			}
			if err := p.expect(")"); err != nil {
				return err
			}
		}
		v.Cases = append(v.Cases, wit.Case{Name: c, Type: t})
		return nil
	})
	if err != nil {
		return fmt.Errorf("variant %s: %w", name, err)
	}
	return p.define(s, name, line, v)
}

func (p *parser) parseNames(s *scope, keyword string) error {
	line := p.peek().line
	name, err := p.ident()
	if err != nil {
		return err
	}
	var names []string
	err = p.commaList(func() error {
		n, err := p.ident()
		names = append(names, n)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", keyword, name, err)
	}

	if keyword == "enum" {
		e := &wit.Enum{}
		for _, n := range names {
			e.Cases = append(e.Cases, wit.EnumCase{Name: n})
		}
		return p.define(s, name, line, e)
	}
	f := &wit.Flags{}
	for _, n := range names {
		f.Flags = append(f.Flags, wit.Flag{Name: n})
	}
	return p.define(s, name, line, f)
}

// commaList parses `{ item, item, ... }` with an optional trailing comma.
func (p *parser) commaList(item func() error) error {
	if err := p.expect("{"); err != nil {
		return err
	}
	for !p.accept("}") {
		if err := item(); err != nil {
			return err
		}
		if !p.accept(",") {
			return p.expect("}")
		}
	}
	return nil
}

func (p *parser) parseFunc(s *scope, name token) error {
	if err := p.expect(":"); err != nil {
		return err
	}
	if err := p.expect("func"); err != nil {
		return err
	}
	for _, fn := range s.iface.Funcs {
		if fn.Name == name.text {
			return p.errorf(name, "function %s declared twice", name.text)
		}
	}
	fn := component.Func{Name: name.text}
	if err := p.expect("("); err != nil {
		return err
	}
	for !p.accept(")") {
		param, err := p.ident()
		if err != nil {
			return err
		}
		if err := p.expect(":"); err != nil {
			return err
		}
		t, err := p.parseType(s)
		if err != nil {
			return fmt.Errorf("function %s: %w", name.text, err)
		}
		fn.Params = append(fn.Params, component.Param{Name: param, Type: t})
		if !p.accept(",") {
			if err := p.expect(")"); err != nil {
				return err
			}
			break
		}
	}
	if p.accept("->") {
		t, err := p.parseType(s)
		if err != nil {
			return fmt.Errorf("function %s: %w", name.text, err)
		}
		fn.Result = t
	}
	if err := p.expect(";"); err != nil {
		return err
	}
	s.iface.Funcs = append(s.iface.Funcs, fn)
	return nil
}

// parseType parses a type reference: a primitive, a generic type or the
// name of a type declared in the enclosing interface.
func (p *parser) parseType(s *scope) (wit.Type, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, p.errorf(t, "expected type, got %s", t)
	}

	switch t.text {
	case "list", "option":
		if err := p.expect("<"); err != nil {
			return nil, err
		}
		elem, err := p.parseType(s)
		if err != nil {
			return nil, err
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		if t.text == "list" {
			return &wit.TypeDef{Kind: &wit.List{Type: elem}}, nil
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: elem}}, nil
	case "tuple":
		tup := &wit.Tuple{}
		if err := p.expect("<"); err != nil {
			return nil, err
		}
		for {
			elem, err := p.parseType(s)
			if err != nil {
				return nil, err
			}
			tup.Types = append(tup.Types, elem)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: tup}, nil
	case "result":
		res := &wit.Result{}
		if !p.accept("<") {
			return &wit.TypeDef{Kind: res}, nil
		}
		ok, err := p.parseOptionalType(s)
		if err != nil {
			return nil, err
		}
		res.OK = ok
		if p.accept(",") {
			if res.Err, err = p.parseType(s); err != nil {
				return nil, err
			}
		}
		if err := p.expect(">"); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: res}, nil
	case "own", "borrow", "future", "stream":
		return nil, p.errorf(t, "%s types are not supported", t.text)
	}

	if prim, err := wit.ParseType(t.text); err == nil {
		return prim, nil
	}
	return s.ref(t.text, t.line), nil
}

// parseOptionalType parses a type, or `_` for an absent result type.
func (p *parser) parseOptionalType(s *scope) (wit.Type, error) {
	if t := p.peek(); t.kind == tokIdent && t.text == "_" {
		p.next()
		return nil, nil
	}
	return p.parseType(s)
}

func (p *parser) parseWorld() error {
	name, err := p.ident()
	if err != nil {
		return err
	}
	for _, w := range p.pkg.Worlds {
		if w.Name == name {
			return p.errorf(p.toks[p.pos-1], "world %s declared twice", name)
		}
	}
	w := &World{pkg: p.pkg, Name: name}
	if err := p.expect("{"); err != nil {
		return err
	}

	for !p.accept("}") {
		t := p.next()
		if t.kind != tokIdent || (t.text != "import" && t.text != "export") {
			return fmt.Errorf("world %s: %w", name, p.errorf(t, "expected import or export, got %s", t))
		}
		path, err := p.parsePath()
		if err != nil {
			return fmt.Errorf("world %s: %w", name, err)
		}
		if err := p.expect(";"); err != nil {
			return fmt.Errorf("world %s: %w", name, err)
		}
		p.pending = append(p.pending, worldRef{world: w, path: path, line: t.line, export: t.text == "export"})
	}

	p.pkg.Worlds = append(p.pkg.Worlds, w)
	return nil
}

// parsePath parses an interface reference: a local interface name or a
// qualified `ns:pkg/iface@version`.
func (p *parser) parsePath() (string, error) {
	first, err := p.ident()
	if err != nil {
		return "", err
	}
	if !p.accept(":") {
		return first, nil
	}
	second := p.next()
	if second.kind != tokIdent || second.text == "func" || second.text == "interface" {
		return "", p.errorf(second, "inline world items are not supported")
	}
	if err := p.expect("/"); err != nil {
		return "", err
	}
	item, err := p.ident()
	if err != nil {
		return "", err
	}
	path := first + ":" + second.text + "/" + item
	if p.accept("@") {
		path += "@" + p.next().text
	}
	return path, nil
}

func (p *parser) resolveWorlds() error {
	for _, ref := range p.pending {
		iface, ok := p.lookupPath(ref.path)
		if !ok {
			return fmt.Errorf("world %s: line %d: unresolved interface %s", ref.world.Name, ref.line, ref.path)
		}
		if ref.export {
			ref.world.Exports = append(ref.world.Exports, iface)
		} else {
			ref.world.Imports = append(ref.world.Imports, iface)
		}
	}
	return nil
}

func (p *parser) lookupPath(path string) (*Interface, bool) {
	if iface, ok := p.pkg.Interface(path); ok {
		return iface, true
	}
	for _, iface := range p.pkg.Interfaces {
		if iface.QualifiedName() == path {
			return iface, true
		}
	}
	return nil, false
}

// checkAcyclic reports an error when td refers back to itself.
func checkAcyclic(td *wit.TypeDef, visiting map[*wit.TypeDef]bool) error {
	if visiting[td] {
		return fmt.Errorf("recursive type")
	}
	visiting[td] = true
	defer delete(visiting, td)

	for _, child := range component.TypeChildren(td.Kind) {
		if inner, ok := child.(*wit.TypeDef); ok {
			if err := checkAcyclic(inner, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

package witmeta

import (
	"fmt"

	"github.com/reconcilerio/static-config/component"
)

// Package is a parsed WIT package.
type Package struct {
	Namespace  string
	Name       string
	Version    string
	Interfaces []*Interface
	Worlds     []*World
}

// ID returns the package id, for example "wasi:config@0.2.0-draft".
func (p *Package) ID() string {
	id := p.Namespace + ":" + p.Name
	if p.Version != "" {
		id += "@" + p.Version
	}
	return id
}

// qualify returns the fully qualified name of an item of the package.
func (p *Package) qualify(item string) string {
	name := p.Namespace + ":" + p.Name + "/" + item
	if p.Version != "" {
		name += "@" + p.Version
	}
	return name
}

// Interface returns the interface with the given short name.
func (p *Package) Interface(name string) (*Interface, bool) {
	for _, iface := range p.Interfaces {
		if iface.Name == name {
			return iface, true
		}
	}
	return nil, false
}

// Interface is a WIT interface: named types and functions.
type Interface struct {
	pkg   *Package
	Name  string
	Types []component.TypeDecl
	Funcs []component.Func
}

// QualifiedName returns the interface name including package and version.
func (i *Interface) QualifiedName() string {
	return i.pkg.qualify(i.Name)
}

// Component returns the interface as a component model descriptor.
func (i *Interface) Component() *component.Interface {
	return &component.Interface{
		Name:  i.QualifiedName(),
		Types: i.Types,
		Funcs: i.Funcs,
	}
}

// World is a WIT world importing and exporting interfaces of its package.
type World struct {
	pkg     *Package
	Name    string
	Imports []*Interface
	Exports []*Interface
}

// Package returns the package that declares w.
func (w *World) Package() *Package { return w.pkg }

// QualifiedName returns the world name including package and version.
func (w *World) QualifiedName() string {
	return w.pkg.qualify(w.Name)
}

// Component returns the world as a component model descriptor.
func (w *World) Component() *component.World {
	out := &component.World{Name: w.QualifiedName()}
	for _, iface := range w.Imports {
		out.Imports = append(out.Imports, iface.Component())
	}
	for _, iface := range w.Exports {
		out.Exports = append(out.Exports, iface.Component())
	}
	return out
}

func (w *World) String() string {
	return fmt.Sprintf("world %s", w.QualifiedName())
}

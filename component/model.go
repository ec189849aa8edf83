package component

import "go.bytecodealliance.org/wit"

// TypeDecl is a named type declared by an interface.
type TypeDecl struct {
	Def  *wit.TypeDef
	Name string
}

// Param is a named function parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Func is an interface function. A nil Result means the function returns
// nothing.
type Func struct {
	Result wit.Type
	Name   string
	Params []Param
}

// Interface is an interface as seen by the component model: a fully
// qualified name (for example "wasi:config/store@0.2.0-draft"), the named
// types it exports, and its functions.
type Interface struct {
	Name  string
	Types []TypeDecl
	Funcs []Func
}

// CoreExportName returns the name under which a core module exports the
// implementation of fn.
func (i *Interface) CoreExportName(fn string) string {
	return i.Name + "#" + fn
}

// World is a set of imported and exported interfaces under a fully qualified
// world name (for example "wasi:config/adapter@0.2.0-draft").
type World struct {
	Name    string
	Imports []*Interface
	Exports []*Interface
}

package witmeta

import (
	_ "embed"
	"strings"
	"sync"

	staticerrors "github.com/reconcilerio/static-config/errors"
)

// DefaultWorld is the world configuration providers export.
const DefaultWorld = "adapter"

//go:embed wit/config.wit
var configWIT string

var (
	defaultPkg     *Package
	defaultPkgErr  error
	defaultPkgOnce sync.Once
)

// Default returns the wasi:config package configuration providers
// implement. The package is parsed once; callers must not modify it.
func Default() (*Package, error) {
	defaultPkgOnce.Do(func() {
		defaultPkg, defaultPkgErr = Parse("config.wit", configWIT)
	})
	return defaultPkg, defaultPkgErr
}

// SelectWorld returns the world of p named name. The name may be the bare
// world name ("adapter"), qualified by package ("wasi:config/adapter"), or
// qualified with the package version ("wasi:config/adapter@0.2.0-draft").
// An empty name selects the only world of a package that declares one.
func (p *Package) SelectWorld(name string) (*World, error) {
	if name == "" {
		if len(p.Worlds) == 1 {
			return p.Worlds[0], nil
		}
		return nil, staticerrors.New(staticerrors.PhaseMetadata, staticerrors.KindInput).
			Detail("package %s declares %d worlds, a world name is required", p.ID(), len(p.Worlds)).
			Build()
	}

	short := name
	if pkgPart, world, ok := strings.Cut(name, "/"); ok {
		if pkgPart != p.Namespace+":"+p.Name {
			return nil, unknownWorld(p, name)
		}
		short = world
		if world, version, ok := strings.Cut(world, "@"); ok {
			if version != p.Version {
				return nil, unknownWorld(p, name)
			}
			short = world
		}
	}

	for _, w := range p.Worlds {
		if w.Name == short {
			return w, nil
		}
	}
	return nil, unknownWorld(p, name)
}

func unknownWorld(p *Package, name string) error {
	var known []string
	for _, w := range p.Worlds {
		known = append(known, w.Name)
	}
	return staticerrors.New(staticerrors.PhaseMetadata, staticerrors.KindInput).
		Detail("world %q not found in package %s (worlds: %s)", name, p.ID(), strings.Join(known, ", ")).
		Build()
}

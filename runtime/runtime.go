package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/configdata"
	"github.com/reconcilerio/static-config/embed"
	"github.com/reconcilerio/static-config/errors"
)

// Config holds configuration for loading an artifact.
type Config struct {
	// MemoryLimitPages caps the memory of the instance in 64KiB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Compiler selects the optimizing compiler instead of the interpreter.
	// Inspection runs no guest code, so the interpreter is the default.
	Compiler bool
}

// Store is an instantiated artifact whose entries can be read.
type Store struct {
	rt      wazero.Runtime
	mod     api.Module
	control uint32
}

// Load instantiates artifact, a component or a core module, with the
// default Config.
func Load(ctx context.Context, artifact []byte) (*Store, error) {
	return LoadWithConfig(ctx, artifact, nil)
}

// LoadWithConfig instantiates artifact with cfg. The artifact must not
// import anything.
func LoadWithConfig(ctx context.Context, artifact []byte, cfg *Config) (*Store, error) {
	core, err := coreModule(artifact)
	if err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfigInterpreter()
	if cfg != nil {
		if cfg.Compiler {
			runtimeCfg = wazero.NewRuntimeConfig()
		}
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	mod, err := rt.InstantiateWithConfig(ctx, core, wazero.NewModuleConfig().WithName("static-config"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFormat, err, "instantiate artifact")
	}

	g := mod.ExportedGlobal(embed.ControlSymbol)
	if g == nil {
		_ = rt.Close(ctx)
		return nil, errors.New(errors.PhaseRuntime, errors.KindFormat).
			Global(embed.ControlSymbol).
			Detail("artifact does not export the control block symbol").
			Build()
	}
	if mod.ExportedMemory(component.MemoryExport) == nil {
		_ = rt.Close(ctx)
		return nil, errors.Format(errors.PhaseRuntime, "artifact does not export %q", component.MemoryExport)
	}

	return &Store{rt: rt, mod: mod, control: api.DecodeU32(g.Get())}, nil
}

// coreModule returns the core module of a component, or artifact itself when
// it is not a component.
func coreModule(artifact []byte) ([]byte, error) {
	if !component.IsComponent(artifact) {
		return artifact, nil
	}
	c, err := component.Decode(artifact)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFormat, err, "decode component")
	}
	if len(c.CoreModules) != 1 {
		return nil, errors.Format(errors.PhaseRuntime, "component has %d core modules, expected one", len(c.CoreModules))
	}
	return c.CoreModules[0], nil
}

// Control returns the address of the control block.
func (s *Store) Control() uint32 {
	return s.control
}

// GetAll returns every entry in embedding order.
func (s *Store) GetAll(ctx context.Context) ([]configdata.Entry, error) {
	mem := s.mod.ExportedMemory(component.MemoryExport)

	count, ok := mem.ReadUint32Le(s.control + embed.CountOffset)
	if !ok {
		return nil, s.outOfRange("entry count", s.control+embed.CountOffset)
	}
	if count == 0 {
		return []configdata.Entry{}, nil
	}
	ptr, ok := mem.ReadUint32Le(s.control + embed.DataOffset)
	if !ok {
		return nil, s.outOfRange("data pointer", s.control+embed.DataOffset)
	}
	if ptr >= mem.Size() {
		return nil, s.outOfRange("entries", ptr)
	}
	data, ok := mem.Read(ptr, mem.Size()-ptr)
	if !ok {
		return nil, s.outOfRange("entries", ptr)
	}
	return configdata.Decode(data, count)
}

// Get returns the value of the first entry with the given key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := configdata.Get(entries, key)
	return v, ok, nil
}

// Close releases the instance and its runtime.
func (s *Store) Close(ctx context.Context) error {
	return s.rt.Close(ctx)
}

func (s *Store) outOfRange(what string, addr uint32) error {
	return errors.New(errors.PhaseRuntime, errors.KindFormat).
		Address(addr).
		Detail("%s lies outside linear memory of %d bytes", what, s.mod.ExportedMemory(component.MemoryExport).Size()).
		Build()
}

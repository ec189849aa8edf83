package staticconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
	"github.com/reconcilerio/static-config/witmeta"
)

// Finalize turns a patched template into a component exporting the
// interfaces of meta.World.
//
// The component-type section recorded in meta is removed from m and carried
// by the component instead. The remaining core module is compiled with
// wazero to validate it, must have no imports, and must export its memory,
// cabi_realloc and "<interface>#<func>" for every function the world
// exports. Any failure is an encoding error.
func Finalize(ctx context.Context, m *wasm.Module, meta *witmeta.Metadata) ([]byte, error) {
	if meta == nil || meta.World == nil {
		return nil, errors.InvalidInput("finalize requires component-type metadata")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.RemoveCustomSection(meta.ID)
	core := m.Encode()

	if err := validateCore(ctx, m, core); err != nil {
		return nil, errors.Encoding(errors.PhaseFinalize, err, "core module is not valid")
	}

	b, err := component.NewBuilder(core)
	if err != nil {
		return nil, errors.Encoding(errors.PhaseFinalize, err, "wrap core module")
	}
	for _, iface := range meta.World.Exports {
		if err := b.Export(iface.Component()); err != nil {
			return nil, errors.Encoding(errors.PhaseFinalize, err, "export %s", iface.QualifiedName())
		}
	}
	b.Custom(meta.Name, meta.Payload)

	out, err := b.Encode()
	if err != nil {
		return nil, errors.Encoding(errors.PhaseFinalize, err, "encode component")
	}

	c, err := component.Decode(out)
	if err != nil {
		return nil, errors.Encoding(errors.PhaseFinalize, err, "decode produced component")
	}
	if err := c.Check(); err != nil {
		return nil, errors.Encoding(errors.PhaseFinalize, err, "check produced component")
	}

	Logger().Debug("finalized component",
		zap.String("world", meta.World.QualifiedName()),
		zap.Int("core_size", len(core)),
		zap.Int("size", len(out)),
		zap.Int("exports", len(c.Exports)),
	)
	return out, nil
}

// validateCore compiles core and checks the exports a configuration provider
// needs. m is the parsed form of core.
func validateCore(ctx context.Context, m *wasm.Module, core []byte) error {
	if len(m.Imports) > 0 {
		names := make([]string, 0, len(m.Imports))
		for _, imp := range m.Imports {
			names = append(names, imp.Module+"."+imp.Name)
		}
		return fmt.Errorf("core module has imports: %s", strings.Join(names, ", "))
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2))
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, core)
	if err != nil {
		return err
	}
	defer compiled.Close(ctx)

	if _, ok := compiled.ExportedMemories()[component.MemoryExport]; !ok {
		return fmt.Errorf("core module does not export %q", component.MemoryExport)
	}
	funcs := compiled.ExportedFunctions()
	if _, ok := funcs[component.ReallocExport]; !ok {
		return fmt.Errorf("core module does not export %q", component.ReallocExport)
	}
	return nil
}

package staticconfig

import (
	"context"

	"go.uber.org/zap"

	"github.com/reconcilerio/static-config/configdata"
	"github.com/reconcilerio/static-config/embed"
	"github.com/reconcilerio/static-config/errors"
	"github.com/reconcilerio/static-config/wasm"
	"github.com/reconcilerio/static-config/witmeta"
)

// Version is recorded under processed-by in the produced component-type
// section. Release builds override it with -ldflags.
var Version = "0.1.0"

type options struct {
	pkg     *witmeta.Package
	logger  *zap.Logger
	world   string
	version string
}

// Option configures CreateComponent.
type Option func(*options)

// WithWorld selects the world the component advertises. Defaults to
// witmeta.DefaultWorld.
func WithWorld(name string) Option {
	return func(o *options) {
		o.world = name
	}
}

// WithPackage replaces the embedded wasi:config package as the source of
// worlds.
func WithPackage(pkg *witmeta.Package) Option {
	return func(o *options) {
		o.pkg = pkg
	}
}

// WithVersion overrides the version recorded under processed-by.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithLogger logs this invocation to l instead of the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// CreateComponent embeds entries into template and returns the finished
// component. template is only read; concurrent calls may share it.
func CreateComponent(ctx context.Context, template []byte, entries []configdata.Entry, opts ...Option) ([]byte, error) {
	o := &options{
		world:   witmeta.DefaultWorld,
		version: Version,
	}
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	pkg := o.pkg
	if pkg == nil {
		var err error
		if pkg, err = witmeta.Default(); err != nil {
			return nil, errors.Wrap(errors.PhaseMetadata, errors.KindEncoding, err, "load wasi:config package")
		}
	}
	world, err := pkg.SelectWorld(o.world)
	if err != nil {
		return nil, err
	}

	m, err := wasm.Parse(template)
	if err != nil {
		return nil, err
	}
	log.Debug("parsed template",
		zap.Int("size", len(template)),
		zap.Int("segments", len(m.Data)),
		zap.Int("globals", len(m.Globals)),
	)

	res, err := embed.Embed(m, entries)
	if err != nil {
		return nil, err
	}
	log.Debug("embedded entries",
		zap.Uint32("count", res.Count),
		zap.Uint32("base", res.Base),
		zap.Uint32("reserved", res.Reserved),
	)

	meta, err := witmeta.Reattach(m, world, o.version)
	if err != nil {
		return nil, err
	}
	log.Debug("reattached component type",
		zap.String("section", meta.Name),
		zap.String("world", world.QualifiedName()),
	)

	out, err := Finalize(ctx, m, meta)
	if err != nil {
		return nil, err
	}
	log.Info("created component",
		zap.Int("entries", len(entries)),
		zap.String("world", world.QualifiedName()),
		zap.Int("size", len(out)),
	)
	return out, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	staticconfig "github.com/reconcilerio/static-config"
	"github.com/reconcilerio/static-config/cmd/static-config/internal/config"
	"github.com/reconcilerio/static-config/configdata"
	"github.com/reconcilerio/static-config/embed"
)

// properties collects repeated -p flags in order.
type properties []string

func (p *properties) String() string {
	return strings.Join(*p, ",")
}

func (p *properties) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("static-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		props      properties
		template   = fs.String("template", "", "Path to the template core module")
		output     = fs.String("o", "", "Output path, - for stdout")
		world      = fs.String("world", "", "World the component advertises (default adapter)")
		configPath = fs.String("config", "", "YAML file with tool settings")
		logLevel   = fs.String("log-level", "", "debug, info, warn or error (default warn)")
		inspect    = fs.String("inspect", "", "Print the entries of an artifact and exit")
	)
	fs.Var(&props, "p", "Entry as key=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: static-config -template <template.wasm> -o <out.wasm|-> [-p key=value ...]")
		fmt.Fprintln(stderr, "       static-config -inspect <artifact.wasm>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg, err := config.Load(*configPath, config.CLIOverrides{
		Template: *template,
		Output:   *output,
		World:    *world,
		LogLevel: *logLevel,
	})
	if err != nil {
		return err
	}

	if *inspect != "" {
		return runInspect(ctx, *inspect, stdout)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := initLogger(cfg.Logging.Level, stderr)
	defer logger.Sync()
	staticconfig.SetLogger(logger)
	embed.SetLogger(logger.Named("embed"))

	entries, err := configdata.ParseProperties(props)
	if err != nil {
		return err
	}

	if cfg.Output == "-" && isTerminal(stdout) {
		return fmt.Errorf("refusing to write a binary component to a terminal, use -o <file> or redirect stdout")
	}

	tmpl, err := os.ReadFile(cfg.Template)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	artifact, err := staticconfig.CreateComponent(ctx, tmpl, entries, staticconfig.WithWorld(cfg.World))
	if err != nil {
		return err
	}

	if cfg.Output == "-" {
		_, err = stdout.Write(artifact)
	} else {
		err = os.WriteFile(cfg.Output, artifact, 0o644)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("wrote component",
		zap.String("template", cfg.Template),
		zap.String("output", cfg.Output),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// initLogger creates a console logger writing to w.
func initLogger(level string, w io.Writer) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.WarnLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core)
}

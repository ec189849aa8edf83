package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/internal/fixture"
)

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.wasm")
	if err := os.WriteFile(path, fixture.Template(), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunWritesAndInspects(t *testing.T) {
	ctx := context.Background()
	template := writeTemplate(t)
	out := filepath.Join(t.TempDir(), "out.wasm")

	var stdout, stderr bytes.Buffer
	err := run(ctx, []string{
		"-template", template,
		"-o", out,
		"-p", "greeting=hello",
		"-p", "url=http://x/?a=b",
		"-log-level", "info",
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v (stderr: %s)", err, stderr.String())
	}
	if !strings.Contains(stderr.String(), "wrote component") {
		t.Errorf("stderr = %q", stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !component.IsComponent(data) {
		t.Fatal("output is not a component")
	}

	stdout.Reset()
	if err := run(ctx, []string{"-inspect", out}, &stdout, &stderr); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{
		"2 entries", "greeting", "hello", "url", "http://x/?a=b",
		"wasi:config/adapter@0.2.0-draft", "processed-by", "static-config",
	} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("inspect output missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestRunStdout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-template", writeTemplate(t), "-o", "-"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !component.IsComponent(stdout.Bytes()) {
		t.Error("stdout is not a component")
	}
}

func TestRunTemplateFromEnv(t *testing.T) {
	t.Setenv("STATIC_CONFIG_TEMPLATE", writeTemplate(t))
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-o", "-", "-p", "a=b"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	template := writeTemplate(t)
	out := filepath.Join(t.TempDir(), "out.wasm")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no template", []string{"-o", out}, "template path is required"},
		{"no output", []string{"-template", template}, "output path is required"},
		{"bad property", []string{"-template", template, "-o", out, "-p", "novalue"}, "key=value"},
		{"missing template", []string{"-template", filepath.Join(t.TempDir(), "nope.wasm"), "-o", out}, "read template"},
		{"unknown world", []string{"-template", template, "-o", out, "-world", "nope"}, "not found"},
		{"extra argument", []string{"-template", template, "-o", out, "stray"}, "unexpected arguments"},
		{"missing artifact", []string{"-inspect", filepath.Join(t.TempDir(), "nope.wasm")}, "read artifact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tt.args, &stdout, &stderr)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
			if _, statErr := os.Stat(out); statErr == nil {
				t.Error("output written on failure")
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-h"}, &stdout, &stderr); err != nil {
		t.Errorf("run -h: %v", err)
	}
	if !strings.Contains(stderr.String(), "Usage: static-config") {
		t.Errorf("usage not printed: %q", stderr.String())
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "static-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", CLIOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.World != "adapter" || cfg.Logging.Level != "warn" || cfg.Template != "" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoad_Layers(t *testing.T) {
	path := writeFile(t, "template: file.wasm\noutput: file-out.wasm\nworld: imports\nlogging:\n  level: info\n")

	tests := []struct {
		name  string
		env   map[string]string
		cli   CLIOverrides
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "file over defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Template != "file.wasm" || cfg.World != "imports" || cfg.Logging.Level != "info" {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{
			name: "env over file",
			env:  map[string]string{EnvTemplate: "env.wasm", EnvLogLevel: "debug"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Template != "env.wasm" || cfg.Logging.Level != "debug" {
					t.Errorf("cfg = %+v", cfg)
				}
				if cfg.Output != "file-out.wasm" {
					t.Errorf("Output = %q, want file value", cfg.Output)
				}
			},
		},
		{
			name: "flags over env",
			env:  map[string]string{EnvTemplate: "env.wasm"},
			cli:  CLIOverrides{Template: "cli.wasm", Output: "-", World: "adapter", LogLevel: "error"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Template != "cli.wasm" || cfg.Output != "-" || cfg.World != "adapter" || cfg.Logging.Level != "error" {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(path, tt.cli)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), "reading config file"},
		{"unknown key", writeFile(t, "template: a.wasm\nproperties:\n  a: b\n"), "field properties not found"},
		{"unknown nested key", writeFile(t, "logging:\n  levle: debug\n"), "field levle not found"},
		{"not a mapping", writeFile(t, "- a\n- b\n"), "cannot unmarshal"},
		{"bad yaml", writeFile(t, "template: [\n"), "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path, CLIOverrides{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""), CLIOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.World != "adapter" {
		t.Errorf("World = %q", cfg.World)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no template", func(c *Config) { c.Template = "" }, "template path is required"},
		{"no output", func(c *Config) { c.Output = "" }, "output path is required"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Template = "t.wasm"
			cfg.Output = "-"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

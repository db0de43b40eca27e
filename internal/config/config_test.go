package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/fold/internal/manifold"
)

func TestFindTarget(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   string
		hasErr bool
	}{
		{"invoked explicitly", []string{"/lib/fold", "./hello"}, "./hello", false},
		{"invoked via suffix path", []string{"/usr/local/bin/fold", "target"}, "target", false},
		{"invoked as interpreter", []string{"./hello"}, "./hello", false},
		{"interpreter with args", []string{"./hello", "world"}, "./hello", false},
		{"no args", nil, "", true},
		{"self with no target", []string{"fold"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindTarget(tt.args, "fold")
			if (err != nil) != tt.hasErr {
				t.Fatalf("err = %v, hasErr = %v", err, tt.hasErr)
			}
			if got != tt.want {
				t.Errorf("target = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultRemap(t *testing.T) {
	m := DefaultRemap()
	if v, ok := m["libc.so"]; !ok || v == nil || *v != "libc.so" {
		t.Errorf("libc.so remap = %v", v)
	}
	for _, drop := range []string{"libm.so", "libpthread.so", "ld-linux-x86-64.so"} {
		v, ok := m[drop]
		if !ok || v != nil {
			t.Errorf("%s should be dropped, got %v (present %v)", drop, v, ok)
		}
	}
}

func TestLoadWithYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fold.yaml")
	const doc = `
search_paths: [/opt/lib]
remap:
  libz.so: libzz.so
  libfoo.so:
verbose: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FOLD_CONFIG", path)
	t.Setenv("FOLD_LIBRARY_PATH", "/custom/a:/custom/b")

	cfg, err := Load(&manifold.Env{Args: []string{"fold", "/tmp/prog"}}, "fold")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Target != "/tmp/prog" {
		t.Errorf("target = %q", cfg.Target)
	}
	if !cfg.Verbose {
		t.Error("verbose not picked up from YAML")
	}
	if v := cfg.Remap["libz.so"]; v == nil || *v != "libzz.so" {
		t.Errorf("libz.so remap = %v", v)
	}
	if v, ok := cfg.Remap["libfoo.so"]; !ok || v != nil {
		t.Errorf("libfoo.so should be dropped")
	}

	// Probe order: target dir, FOLD_LIBRARY_PATH, YAML, system defaults.
	want := []string{"/tmp", "/custom/a", "/custom/b", "/opt/lib", "/lib/fold-musl", "/lib", "/lib64", "/usr/lib/"}
	if len(cfg.SearchPaths) != len(want) {
		t.Fatalf("search paths = %v", cfg.SearchPaths)
	}
	for i, w := range want {
		if cfg.SearchPaths[i] != w {
			t.Errorf("search path %d = %q, want %q", i, cfg.SearchPaths[i], w)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FOLD_CONFIG", "")
	t.Setenv("FOLD_LIBRARY_PATH", "")
	cfg, err := Load(&manifold.Env{Args: []string{"fold", "./prog"}}, "fold")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SearchPaths[0] != "." {
		t.Errorf("first search path = %q, want the target directory", cfg.SearchPaths[0])
	}
}
